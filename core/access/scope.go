package access

import (
	"fmt"

	"github.com/relabs-tech/modelapi/core/entity"
	"github.com/relabs-tech/modelapi/core/store"
)

// OwnerColumn names the column that ties a record to the account that
// owns it. Entities carrying this column are automatically scoped to the
// calling user.
const OwnerColumn = "userId"

// OwnerScope returns the filter restricting queries on decl to records
// owned by the token's subject. Scoping does not apply when the entity
// has no owner column, when there is no authenticated caller, or when
// the entity requires roles and the caller has all of them; role holders
// see every record.
func OwnerScope(token *AccessToken, decl *entity.Declaration) (store.Filter, bool) {
	if !decl.HasColumn(OwnerColumn) || decl.PrimaryKey() == OwnerColumn {
		return store.Filter{}, false
	}
	if token == nil || token.Subject == "" {
		return store.Filter{}, false
	}
	if len(decl.Roles) > 0 && token.HasAllRoles(decl.Roles) {
		return store.Filter{}, false
	}
	return store.Filter{
		Field: OwnerColumn,
		Op:    store.OpEquals,
		Value: token.Subject,
	}, true
}

// OwnsRecord reports whether the record is visible to the caller under
// ownership scoping. Records pass when scoping does not apply.
func OwnsRecord(token *AccessToken, decl *entity.Declaration, record store.Record) bool {
	filter, ok := OwnerScope(token, decl)
	if !ok {
		return true
	}
	owner, _ := record[OwnerColumn].(string)
	return owner == filter.Value
}

// FillOwner stamps the caller's subject onto the record's owner column
// when the entity has one and the payload left it empty. Explicit owner
// values are preserved for role holders; scoped callers may only name
// themselves, anything else is an error.
func FillOwner(token *AccessToken, decl *entity.Declaration, record store.Record) error {
	if token == nil || token.Subject == "" {
		return nil
	}
	if !decl.HasColumn(OwnerColumn) || decl.PrimaryKey() == OwnerColumn {
		return nil
	}
	owner, _ := record[OwnerColumn].(string)
	if _, scoped := OwnerScope(token, decl); scoped {
		if owner != "" && owner != token.Subject {
			return fmt.Errorf("%s %q does not match the calling user", OwnerColumn, owner)
		}
		record[OwnerColumn] = token.Subject
		return nil
	}
	if owner == "" {
		record[OwnerColumn] = token.Subject
	}
	return nil
}
