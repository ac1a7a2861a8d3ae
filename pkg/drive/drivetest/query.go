package drivetest

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/foomo/cloudbackup/pkg/drive"
	"github.com/pkg/errors"
)

var (
	equalsClause  = regexp.MustCompile(`^(\w+)\s*=\s*(.+)$`)
	parentsClause = regexp.MustCompile(`^'((?:[^'\\]|\\.)*)'\s+in\s+parents$`)
)

// parseQuery supports the subset of the search grammar the engine uses:
// name, mimeType and trashed equality plus "in parents", joined by "and".
func parseQuery(q string) (func(drive.File) bool, string, error) {
	var (
		filters []func(drive.File) bool
		parent  string
	)
	for _, clause := range strings.Split(q, " and ") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		if m := parentsClause.FindStringSubmatch(clause); m != nil {
			id := unquote(m[1])
			parent = id
			filters = append(filters, func(f drive.File) bool {
				return hasParent(f, id)
			})
			continue
		}
		m := equalsClause.FindStringSubmatch(clause)
		if m == nil {
			return nil, "", errors.Errorf("unsupported clause %q", clause)
		}
		field, value := m[1], strings.TrimSpace(m[2])
		switch field {
		case "name":
			name := unquote(strings.Trim(value, "'"))
			filters = append(filters, func(f drive.File) bool { return f.Name == name })
		case "mimeType":
			mimeType := unquote(strings.Trim(value, "'"))
			filters = append(filters, func(f drive.File) bool { return f.MimeType == mimeType })
		case "trashed":
			trashed := value == "true"
			filters = append(filters, func(f drive.File) bool { return f.Trashed == trashed })
		default:
			return nil, "", errors.Errorf("unsupported field %q", field)
		}
	}

	return func(f drive.File) bool {
		for _, filter := range filters {
			if !filter(f) {
				return false
			}
		}
		return true
	}, parent, nil
}

func unquote(v string) string {
	v = strings.ReplaceAll(v, `\'`, `'`)
	return strings.ReplaceAll(v, `\\`, `\`)
}

func urlUnescape(v string) (string, error) {
	return url.QueryUnescape(v)
}
