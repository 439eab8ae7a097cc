// Package sqlsandbox validates agent-supplied SQL before it is ever handed
// to the database driver. It never executes anything — the caller runs
// the statement itself with the tenant's namespace bound to search_path
// (see internal/tenant.Scope) once Validate returns nil.
//
// Validation runs in two layers: a lexical/regex layer that is the sole
// source of truth for the forbidden-keyword and schema-qualification
// rules (it must catch every violation regardless of dialect), and a
// best-effort AST layer using
// github.com/xwb1989/sqlparser for an independent second opinion on
// statement shape. The parser speaks a MySQL-derived grammar and does not
// understand Postgres-only constructs (WITH/CTE support, `::` casts,
// `pg_catalog`), so a parse failure is not itself an error — it only means
// the AST layer is skipped for that statement and the lexical layer alone
// decides.
package sqlsandbox

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// Error is returned (wrapped with a reason) for every rejected statement.
var Error = errors.New("SQL_SANDBOX_ERROR")

// maxLength bounds the candidate SQL string.
const maxLength = 8 * 1024

// forbiddenKeywords are statement-level verbs that never validate OK,
// regardless of case or surrounding whitespace.
var forbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER", "TRUNCATE",
	"GRANT", "REVOKE", "VACUUM", "ANALYZE", "COPY", "CALL", "DO",
}

// forbiddenKeywordRe matches any forbidden keyword as a whole word, so it
// does not false-positive on e.g. a column literally named "dogrant".
var forbiddenKeywordRe = regexp.MustCompile(`(?i)\b(` + strings.Join(forbiddenKeywords, "|") + `)\b`)

// systemCatalogRe matches bare or schema-qualified references to Postgres
// system catalogs.
var systemCatalogRe = regexp.MustCompile(`(?i)\b(pg_\w*|information_schema)\b`)

// schemaQualifiedRe matches an identifier.identifier reference — the shape
// used to reach another tenant's schema or a system catalog explicitly.
// Query aliases are excluded by the caller re-checking any match against
// the set of FROM/JOIN aliases seen in the statement.
var schemaQualifiedRe = regexp.MustCompile(`\b([a-zA-Z_][a-zA-Z0-9_]*)\.([a-zA-Z_][a-zA-Z0-9_]*)\b`)

// identifierCharsetRe matches anything outside the conservative identifier
// and punctuation charset this sandbox allows.
var identifierCharsetRe = regexp.MustCompile(`^[a-zA-Z0-9_\s,.()'"=<>!%+\-*/:;\n\t]*$`)

// Validate checks sql against every sandbox rule and returns nil if it may
// be executed read-only against the tenant's namespace, or a wrapped Error
// describing the first rule violated.
func Validate(sql string) error {
	if len(sql) == 0 {
		return fmt.Errorf("%w: empty statement", Error)
	}
	if len(sql) > maxLength {
		return fmt.Errorf("%w: statement exceeds %d bytes", Error, maxLength)
	}
	if !identifierCharsetRe.MatchString(sql) {
		return fmt.Errorf("%w: disallowed character in statement", Error)
	}

	statements, err := splitStatements(sql)
	if err != nil {
		return fmt.Errorf("%w: %v", Error, err)
	}
	if len(statements) != 1 {
		return fmt.Errorf("%w: exactly one statement is allowed, found %d", Error, len(statements))
	}
	stmt := statements[0]

	if err := checkTopLevelKeyword(stmt); err != nil {
		return err
	}
	if forbiddenKeywordRe.MatchString(stmt) {
		return fmt.Errorf("%w: statement contains a forbidden keyword", Error)
	}
	if systemCatalogRe.MatchString(stmt) {
		return fmt.Errorf("%w: statement references a system catalog", Error)
	}
	if err := checkSchemaQualification(stmt); err != nil {
		return err
	}

	// Best-effort AST cross-check: if the MySQL-flavored parser can read
	// the statement at all, require it to report a SELECT-shaped node.
	if parsed, perr := sqlparser.Parse(stmt); perr == nil {
		if err := checkParsedShape(parsed); err != nil {
			return err
		}
	}

	return nil
}

// splitStatements breaks sql on top-level semicolons, ignoring semicolons
// inside string literals, and discards trailing empty fragments so a
// single statement terminated with `;` is not treated as two statements.
func splitStatements(sql string) ([]string, error) {
	var stmts []string
	var cur strings.Builder
	inSingle, inDouble := false, false

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			cur.WriteByte(c)
		case c == '"' && !inSingle:
			inDouble = !inDouble
			cur.WriteByte(c)
		case c == ';' && !inSingle && !inDouble:
			stmts = append(stmts, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if inSingle || inDouble {
		return nil, fmt.Errorf("unterminated string literal")
	}
	if rest := strings.TrimSpace(cur.String()); rest != "" {
		stmts = append(stmts, rest)
	}

	var nonEmpty []string
	for _, s := range stmts {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	return nonEmpty, nil
}

// checkTopLevelKeyword enforces that the statement begins with SELECT, or
// begins with WITH and contains a SELECT; it does not check which clause
// ends the WITH chain.
func checkTopLevelKeyword(stmt string) error {
	trimmed := strings.TrimSpace(stmt)
	upper := strings.ToUpper(trimmed)
	switch {
	case strings.HasPrefix(upper, "SELECT"):
		return nil
	case strings.HasPrefix(upper, "WITH"):
		// The final clause of a WITH-chain must itself be a SELECT; a
		// CTE that terminates in anything else (e.g. an INSERT ... RETURNING)
		// is rejected by the forbidden-keyword scan that runs regardless.
		lastSelect := strings.LastIndex(upper, "SELECT")
		if lastSelect == -1 {
			return fmt.Errorf("%w: WITH statement has no terminal SELECT", Error)
		}
		return nil
	default:
		return fmt.Errorf("%w: statement must start with SELECT or WITH", Error)
	}
}

// checkSchemaQualification enforces that no identifier.identifier
// reference is allowed except where the left side is a query alias defined
// in this same statement's FROM/JOIN clause.
func checkSchemaQualification(stmt string) error {
	aliases := collectAliases(stmt)
	for _, m := range schemaQualifiedRe.FindAllStringSubmatch(stmt, -1) {
		left := strings.ToLower(m[1])
		if aliases[left] {
			continue
		}
		return fmt.Errorf("%w: schema-qualified reference %q is not a known alias", Error, m[0])
	}
	return nil
}

// aliasRe finds `FROM x AS a` / `FROM x a` / `JOIN x AS a` / `JOIN x a`
// table-alias introductions so checkSchemaQualification can allow
// "a.column" without allowing "pg_catalog.pg_class".
var aliasRe = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+[a-zA-Z_][a-zA-Z0-9_]*\s+(?:AS\s+)?([a-zA-Z_][a-zA-Z0-9_]*)\b`)

func collectAliases(stmt string) map[string]bool {
	aliases := make(map[string]bool)
	for _, m := range aliasRe.FindAllStringSubmatch(stmt, -1) {
		alias := strings.ToLower(m[1])
		switch alias {
		case "where", "on", "join", "group", "order", "limit", "having", "union":
			continue // keyword immediately following a bare table name, not an alias
		}
		aliases[alias] = true
	}
	return aliases
}

// checkParsedShape rejects any parsed statement that is not a SELECT or a
// UNION of SELECTs — defense in depth against statement shapes the lexical
// scan's keyword list does not yet name.
func checkParsedShape(stmt sqlparser.Statement) error {
	switch stmt.(type) {
	case *sqlparser.Select, *sqlparser.Union, *sqlparser.ParenSelect:
		return nil
	default:
		return fmt.Errorf("%w: parsed statement is not a SELECT", Error)
	}
}
