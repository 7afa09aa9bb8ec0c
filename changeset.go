package gqlcache

import (
	"github.com/unkn0wn-root/gqlcache/record"
)

// ChangeSet lists the (id, field) pairs whose effective value changed in one
// write operation. It is sorted and free of duplicates.
type ChangeSet []record.FieldRef

func newChangeSet(refs []record.FieldRef) ChangeSet {
	if len(refs) == 0 {
		return nil
	}
	seen := make(map[record.FieldRef]struct{}, len(refs))
	out := make(ChangeSet, 0, len(refs))
	for _, r := range refs {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	record.SortRefs(out)
	return out
}

func (cs ChangeSet) Empty() bool { return len(cs) == 0 }

func (cs ChangeSet) Contains(id record.ID, field string) bool {
	for _, r := range cs {
		if r.ID == id && r.Field == field {
			return true
		}
	}
	return false
}

// IDs returns the distinct identifiers in the change-set.
func (cs ChangeSet) IDs() []record.ID {
	var out []record.ID
	for i, r := range cs {
		if i == 0 || cs[i-1].ID != r.ID {
			out = append(out, r.ID)
		}
	}
	return out
}

// Intersect keeps the entries present in refs.
func (cs ChangeSet) Intersect(refs []record.FieldRef) ChangeSet {
	if len(cs) == 0 || len(refs) == 0 {
		return nil
	}
	in := make(map[record.FieldRef]struct{}, len(refs))
	for _, r := range refs {
		in[r] = struct{}{}
	}
	var out ChangeSet
	for _, r := range cs {
		if _, ok := in[r]; ok {
			out = append(out, r)
		}
	}
	return out
}
