// Package mix manages mixes: named, labelled sets of annotated-unit origins
// with per-origin address rewrite rules and a target start time.
//
// The package also owns the search surface. Name and description filters are
// case-insensitive literal substring matches, each label adds a predicate
// requiring that label, and predicates are joined with AND or OR.
package mix
