package rbac

// Permission is a "resource:action" string granted by a role
type Permission string

const (
	PermissionSpaceUserManage Permission = "spaceUser:manage"
	PermissionPictureView     Permission = "picture:view"
	PermissionPictureUpload   Permission = "picture:upload"
	PermissionPictureEdit     Permission = "picture:edit"
	PermissionPictureDelete   Permission = "picture:delete"
	PermissionPictureManage   Permission = "picture:manage"
)

// PermissionSet is an ordered, immutable set of permissions. The zero
// value is the empty set.
type PermissionSet struct {
	ordered []Permission
	index   map[Permission]struct{}
}

// NewPermissionSet builds a set, keeping the first occurrence of duplicates
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := PermissionSet{index: make(map[Permission]struct{}, len(perms))}
	for _, p := range perms {
		if _, seen := set.index[p]; seen {
			continue
		}
		set.index[p] = struct{}{}
		set.ordered = append(set.ordered, p)
	}
	return set
}

// Has reports whether p is in the set
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s.index[p]
	return ok
}

// Len returns the number of permissions
func (s PermissionSet) Len() int {
	return len(s.ordered)
}

// IsEmpty reports whether the set grants nothing
func (s PermissionSet) IsEmpty() bool {
	return len(s.ordered) == 0
}

// List returns a copy of the permissions in declaration order
func (s PermissionSet) List() []Permission {
	out := make([]Permission, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// Strings returns the permissions as strings, never nil
func (s PermissionSet) Strings() []string {
	out := make([]string, len(s.ordered))
	for i, p := range s.ordered {
		out[i] = string(p)
	}
	return out
}
