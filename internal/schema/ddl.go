package schema

import (
	"fmt"
	"hash/crc32"
	"regexp"
	"strings"
	"unicode/utf8"

	"mysql-mirror/internal/database"
)

const (
	// MaxIdentifierLength is MySQL's limit for table and constraint names, in characters
	MaxIdentifierLength = 64

	stagingSuffix = "__mirror_staging"
	retiredSuffix = "__mirror_retired"
)

const identifierPattern = "(?:`(?:[^`]|``)+`|[A-Za-z0-9_$]+)"

var (
	createTablePattern = regexp.MustCompile("(?is)^\\s*CREATE\\s+TABLE\\s+(IF\\s+NOT\\s+EXISTS\\s+)?(?:" + identifierPattern + "\\.)?" + identifierPattern)
	// SHOW CREATE TABLE prints one constraint per line
	constraintLine   = regexp.MustCompile("(?im)^([ \\t]*)CONSTRAINT[ \\t]+(" + identifierPattern + ")[ \\t]+((FOREIGN[ \\t]+KEY|CHECK)\\b.*?)(,?)[ \\t]*$")
	referencesClause = regexp.MustCompile("(?i)\\bREFERENCES[ \\t]+(" + identifierPattern + ")([ \\t]*\\.)?")
)

// QuoteIdentifier quotes a table or column name
func QuoteIdentifier(name string) string {
	return database.QuoteIdentifier(name)
}

func unquoteIdentifier(s string) string {
	if len(s) >= 2 && s[0] == '`' && s[len(s)-1] == '`' {
		return strings.ReplaceAll(s[1:len(s)-1], "``", "`")
	}
	return s
}

// StagingName is the table a restore writes into before the swap
func StagingName(table string) string {
	return derivedName(table, stagingSuffix)
}

// RetiredName is the name the live table takes during the swap
func RetiredName(table string) string {
	return derivedName(table, retiredSuffix)
}

// IsArtifact reports whether a name is a staging or retired table
func IsArtifact(name string) bool {
	return strings.HasSuffix(name, stagingSuffix) || strings.HasSuffix(name, retiredSuffix)
}

// derivedName appends suffix, shortening long names with a checksum so
// distinct tables keep distinct derived names within the identifier limit.
func derivedName(table, suffix string) string {
	name := table + suffix
	if utf8.RuneCountInString(name) <= MaxIdentifierLength {
		return name
	}
	sum := fmt.Sprintf("_%08x", crc32.ChecksumIEEE([]byte(table)))
	return truncateRunes(table, MaxIdentifierLength-len(suffix)-len(sum)) + sum + suffix
}

// truncateRunes keeps the first n characters of s
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// TemporaryConstraintName is the name a constraint carries in a staging
// table. Constraint names are unique per schema, so the staging copy cannot
// reuse the name the live table still holds.
func TemporaryConstraintName(name, token string) string {
	return truncateRunes(name, MaxIdentifierLength-1-utf8.RuneCountInString(token)) + "_" + token
}

// Constraint is a named FOREIGN KEY or CHECK constraint of a captured table
type Constraint struct {
	Name       string
	ForeignKey bool
	// Definition is the clause after the name, as captured, e.g.
	// FOREIGN KEY (`post_id`) REFERENCES `posts` (`id`) ON DELETE CASCADE
	Definition string
}

// Constraints returns the named constraints of a captured CREATE TABLE statement
func Constraints(ddl string) []Constraint {
	var constraints []Constraint
	for _, m := range constraintLine.FindAllStringSubmatch(ddl, -1) {
		constraints = append(constraints, Constraint{
			Name:       unquoteIdentifier(m[2]),
			ForeignKey: !strings.EqualFold(m[4], "CHECK"),
			Definition: m[3],
		})
	}
	return constraints
}

// ReferencedTable returns the table a foreign key points at, or "" when the
// constraint is a CHECK or references another schema
func (c Constraint) ReferencedTable() string {
	if !c.ForeignKey {
		return ""
	}
	m := referencesClause.FindStringSubmatch(c.Definition)
	if m == nil || m[2] != "" {
		return ""
	}
	return unquoteIdentifier(m[1])
}

// ForeignKeysTo returns the foreign keys of ddl that reference a table accepted by referenced
func ForeignKeysTo(ddl string, referenced func(string) bool) []Constraint {
	var keys []Constraint
	for _, c := range Constraints(ddl) {
		if target := c.ReferencedTable(); target != "" && referenced(target) {
			keys = append(keys, c)
		}
	}
	return keys
}

// DropConstraint returns the statement dropping a named constraint
func DropConstraint(table, name string, foreignKey bool) string {
	kind := "CHECK"
	if foreignKey {
		kind = "FOREIGN KEY"
	}
	return fmt.Sprintf("ALTER TABLE %s DROP %s %s", QuoteIdentifier(table), kind, QuoteIdentifier(name))
}

// AddConstraint returns the statement adding c to table under its captured name
func AddConstraint(table string, c Constraint) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s", QuoteIdentifier(table), QuoteIdentifier(c.Name), c.Definition)
}

// StagingTable is a table prepared to be built beside its live copy
type StagingTable struct {
	Name    string
	Staging string
	DDL     string
	// Constraints are the captured constraints, each held under
	// TemporaryNames[i] in the staging table until the swap.
	Constraints    []Constraint
	TemporaryNames []string
}

// PrepareStaging rewrites the captured DDL of table so that it builds the
// staging copy. Foreign keys to tables accepted by staged point at their
// staging copies, so that one RENAME of the whole set carries every
// reference over to the live names. Named constraints take a temporary name
// derived from token.
func PrepareStaging(table *TableDescriptor, staged func(string) bool, token string) (*StagingTable, error) {
	st := &StagingTable{Name: table.Name, Staging: StagingName(table.Name)}
	ddl := table.DDL

	matches := constraintLine.FindAllStringSubmatchIndex(ddl, -1)
	for _, m := range matches {
		name := unquoteIdentifier(ddl[m[4]:m[5]])
		st.Constraints = append(st.Constraints, Constraint{
			Name:       name,
			ForeignKey: !strings.EqualFold(ddl[m[8]:m[9]], "CHECK"),
			Definition: ddl[m[6]:m[7]],
		})
		st.TemporaryNames = append(st.TemporaryNames, TemporaryConstraintName(name, token))
	}
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		ddl = ddl[:m[4]] + QuoteIdentifier(st.TemporaryNames[i]) + ddl[m[5]:]
	}

	ddl = retargetReferences(ddl, func(name string) (string, bool) {
		if staged(name) {
			return StagingName(name), true
		}
		return "", false
	})

	ddl, err := RenameCreateTable(ddl, st.Staging)
	if err != nil {
		return nil, err
	}
	st.DDL = ddl
	return st, nil
}

// retargetReferences renames the tables named in REFERENCES clauses.
// Schema-qualified references are left alone.
func retargetReferences(ddl string, rename func(string) (string, bool)) string {
	matches := referencesClause.FindAllStringSubmatchIndex(ddl, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		if m[4] >= 0 {
			continue
		}
		if target, ok := rename(unquoteIdentifier(ddl[m[2]:m[3]])); ok {
			ddl = ddl[:m[2]] + QuoteIdentifier(target) + ddl[m[3]:]
		}
	}
	return ddl
}

// RenameCreateTable rewrites a captured CREATE TABLE statement to create
// newName instead. The rest of the statement is kept as is.
func RenameCreateTable(ddl, newName string) (string, error) {
	loc := createTablePattern.FindStringSubmatchIndex(ddl)
	if loc == nil {
		return "", fmt.Errorf("not a CREATE TABLE statement")
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if loc[2] >= 0 {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(QuoteIdentifier(newName))
	b.WriteString(ddl[loc[1]:])
	return b.String(), nil
}

// CreateIfNotExists makes a captured CREATE TABLE statement idempotent
func CreateIfNotExists(ddl string) (string, error) {
	loc := createTablePattern.FindStringSubmatchIndex(ddl)
	if loc == nil {
		return "", fmt.Errorf("not a CREATE TABLE statement")
	}
	if loc[2] >= 0 {
		return ddl, nil
	}
	head := ddl[loc[0]:loc[1]]
	idx := strings.Index(strings.ToUpper(head), "TABLE") + len("TABLE")
	return ddl[:loc[0]] + head[:idx] + " IF NOT EXISTS" + head[idx:] + ddl[loc[1]:], nil
}
