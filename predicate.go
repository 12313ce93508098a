package tbf

import (
	"iter"
	"slices"
	"strings"
)

// TagPattern is anything that can be matched against the tags of a file.
// The candidate tags are a single-pass sequence, so backends may stream them
// straight from storage.
type TagPattern interface {
	MatchTags(tags iter.Seq[Tag]) bool
}

// Match evaluates a pattern against a slice of tags.
func Match(pattern TagPattern, tags []Tag) bool {
	return pattern.MatchTags(slices.Values(tags))
}

// MatchTags reports whether the candidates contain this exact tag.
func (t Tag) MatchTags(tags iter.Seq[Tag]) bool {
	for tag := range tags {
		if tag == t {
			return true
		}
	}

	return false
}

// Tags is a fixed list of tags used as a pattern.
// It matches when every listed tag is present.
type Tags []Tag

// MatchTags reports whether every tag of the list is among the candidates.
func (ts Tags) MatchTags(tags iter.Seq[Tag]) bool {
	if len(ts) == 0 {
		return true
	}

	missing := make(map[Tag]struct{}, len(ts))
	for _, t := range ts {
		missing[t] = struct{}{}
	}

	for tag := range tags {
		delete(missing, tag)
		if len(missing) == 0 {
			return true
		}
	}

	return false
}

// PredicateOp selects the variant of a TagPredicate.
type PredicateOp int

const (
	OpAnd PredicateOp = iota
	OpOr
	OpNot
	OpGroup
	OpName
	OpTag
)

func (op PredicateOp) String() string {
	switch op {
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpNot:
		return "not"
	case OpGroup:
		return "group"
	case OpName:
		return "name"
	case OpTag:
		return "tag"
	default:
		return "unknown"
	}
}

// TagPredicate is a boolean expression tree over tags.
// Only the fields belonging to Op are meaningful:
//
//	OpAnd, OpOr  Preds
//	OpNot        Preds[0]
//	OpGroup      Group
//	OpName       Name
//	OpTag        Tag
//
// Use the constructors instead of building the struct by hand.
type TagPredicate struct {
	Op    PredicateOp
	Preds []TagPredicate
	Group Group
	Name  string
	Tag   Tag
}

// And matches when all sub-predicates match. And() with no sub-predicates is always true.
func And(preds ...TagPredicate) TagPredicate {
	return TagPredicate{Op: OpAnd, Preds: preds}
}

// Or matches when any sub-predicate matches. Or() with no sub-predicates is always false.
func Or(preds ...TagPredicate) TagPredicate {
	return TagPredicate{Op: OpOr, Preds: preds}
}

// Not inverts a predicate.
func Not(pred TagPredicate) TagPredicate {
	return TagPredicate{Op: OpNot, Preds: []TagPredicate{pred}}
}

// HasGroup matches when any tag belongs to the group.
func HasGroup(group Group) TagPredicate {
	return TagPredicate{Op: OpGroup, Group: group}
}

// HasName matches when any tag has the name, regardless of its group.
func HasName(name string) TagPredicate {
	return TagPredicate{Op: OpName, Name: name}
}

// HasTag matches when the exact tag is present.
func HasTag(tag Tag) TagPredicate {
	return TagPredicate{Op: OpTag, Tag: tag}
}

// AllOf is the predicate form of Tags: every tag must be present.
func AllOf(tags ...Tag) TagPredicate {
	preds := make([]TagPredicate, 0, len(tags))
	for _, tag := range tags {
		preds = append(preds, HasTag(tag))
	}

	return And(preds...)
}

// AnyOf matches when at least one of the tags is present.
func AnyOf(tags ...Tag) TagPredicate {
	preds := make([]TagPredicate, 0, len(tags))
	for _, tag := range tags {
		preds = append(preds, HasTag(tag))
	}

	return Or(preds...)
}

// MatchTags evaluates the predicate tree against the candidate tags.
func (p TagPredicate) MatchTags(tags iter.Seq[Tag]) bool {
	switch p.Op {
	case OpAnd:
		// Every sub-predicate needs its own full pass over the candidates
		buffered := slices.Collect(tags)
		for _, pred := range p.Preds {
			if !pred.MatchTags(slices.Values(buffered)) {
				return false
			}
		}
		return true

	case OpOr:
		buffered := slices.Collect(tags)
		for _, pred := range p.Preds {
			if pred.MatchTags(slices.Values(buffered)) {
				return true
			}
		}
		return false

	case OpNot:
		if len(p.Preds) == 0 {
			return false
		}
		return !p.Preds[0].MatchTags(tags)

	case OpGroup:
		for tag := range tags {
			if tag.group == p.Group {
				return true
			}
		}
		return false

	case OpName:
		for tag := range tags {
			if tag.name == p.Name {
				return true
			}
		}
		return false

	case OpTag:
		return p.Tag.MatchTags(tags)
	}

	return false
}

func (p TagPredicate) String() string {
	var sb strings.Builder
	p.write(&sb)

	return sb.String()
}

func (p TagPredicate) write(sb *strings.Builder) {
	switch p.Op {
	case OpAnd, OpOr:
		sb.WriteString(p.Op.String())
		sb.WriteByte('(')
		for i, pred := range p.Preds {
			if i > 0 {
				sb.WriteString(", ")
			}
			pred.write(sb)
		}
		sb.WriteByte(')')
	case OpNot:
		sb.WriteString("not(")
		if len(p.Preds) > 0 {
			p.Preds[0].write(sb)
		}
		sb.WriteByte(')')
	case OpGroup:
		sb.WriteString("group(" + p.Group.String() + ")")
	case OpName:
		sb.WriteString("name(" + p.Name + ")")
	case OpTag:
		sb.WriteString("tag(" + p.Tag.String() + ")")
	default:
		sb.WriteString(p.Op.String())
	}
}
