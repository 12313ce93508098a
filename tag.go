package tbf

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// Group is the namespace of a tag name. Most tags live in the default group,
// but there can be any number of custom groups.
//
// The zero value is the default group.
type Group struct {
	name   string
	custom bool
}

// DefaultGroup is the unnamed group.
var DefaultGroup = Group{}

// CustomGroup returns the custom group with the given name. An empty name still
// yields a custom group; use GroupOf for the generic conversion.
func CustomGroup(name string) Group {
	return Group{name: name, custom: true}
}

// GroupOf converts a name into a group, mapping the empty name to the default group.
func GroupOf(name string) Group {
	if name == "" {
		return DefaultGroup
	}

	return CustomGroup(name)
}

// IsDefault reports whether this is the default group.
func (g Group) IsDefault() bool {
	return !g.custom
}

// IsCustom reports whether this is a custom group.
func (g Group) IsCustom() bool {
	return g.custom
}

// Name returns the custom group name, or "" for the default group.
func (g Group) Name() string {
	return g.name
}

// Equal compares the group against a plain name the same way GroupOf converts one.
func (g Group) Equal(name string) bool {
	return g == GroupOf(name)
}

// Compare orders the default group before every custom group, and custom groups by name.
func (g Group) Compare(other Group) int {
	if g.custom != other.custom {
		if !g.custom {
			return -1
		}
		return 1
	}

	return strings.Compare(g.name, other.name)
}

func (g Group) String() string {
	if !g.custom {
		return "default"
	}

	return g.name
}

// Tag is a (group, name) label attached to a file.
// Tags are comparable and can be used as map keys.
type Tag struct {
	group Group
	name  string
}

// NewTag creates a tag with both a group and a name.
func NewTag(group Group, name string) Tag {
	return Tag{group: group, name: name}
}

// DefaultTag creates a tag with a name in the default group.
func DefaultTag(name string) Tag {
	return Tag{group: DefaultGroup, name: name}
}

// ParseTag parses "group:name" into a tag. A value without a colon,
// or with an empty group, is placed into the default group.
func ParseTag(s string) Tag {
	group, name, found := strings.Cut(s, ":")
	if !found {
		return DefaultTag(s)
	}

	return NewTag(GroupOf(group), name)
}

// Group returns the group of this tag.
func (t Tag) Group() Group {
	return t.group
}

// Name returns the name of this tag.
func (t Tag) Name() string {
	return t.name
}

// Compare orders tags by group first, then by name.
func (t Tag) Compare(other Tag) int {
	if c := t.group.Compare(other.group); c != 0 {
		return c
	}

	return cmp.Compare(t.name, other.name)
}

func (t Tag) String() string {
	if !t.group.custom {
		return t.name
	}

	return t.group.name + ":" + t.name
}

// Valid reports whether the group and name are valid UTF-8.
func (t Tag) Valid() bool {
	return utf8.ValidString(t.group.name) && utf8.ValidString(t.name)
}

// ValidateTags returns ErrInvalidTag for the first tag that cannot be stored.
func ValidateTags(tags []Tag) error {
	for _, tag := range tags {
		if !tag.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidTag, tag.String())
		}
	}

	return nil
}

// NewTagSet returns the tags sorted and without duplicates.
// The input slice is not modified.
func NewTagSet(tags ...Tag) []Tag {
	set := slices.Clone(tags)
	slices.SortFunc(set, Tag.Compare)

	return slices.Compact(set)
}
