// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlfluent

// Operator is a comparison usable in a predicate.
type Operator int

const (
	Equals Operator = iota + 1
	NotEquals
	GreaterThan
	LessThan
	GreaterThanOrEqual
	LessThanOrEqual
	Like
	NotLike
	In
	NotIn
	Between
	NotBetween
	IsNull
	IsNotNull
)

var operatorSQL = map[Operator]string{
	Equals:             "=",
	NotEquals:          "!=",
	GreaterThan:        ">",
	LessThan:           "<",
	GreaterThanOrEqual: ">=",
	LessThanOrEqual:    "<=",
	Like:               "LIKE",
	NotLike:            "NOT LIKE",
	In:                 "IN",
	NotIn:              "NOT IN",
	Between:            "BETWEEN",
	NotBetween:         "NOT BETWEEN",
	IsNull:             "IS NULL",
	IsNotNull:          "IS NOT NULL",
}

// String returns the SQL text of the operator.
func (op Operator) String() string {
	if s, ok := operatorSQL[op]; ok {
		return s
	}
	return "Operator(?)"
}

// Valid reports whether op is one of the defined operators.
func (op Operator) Valid() bool {
	_, ok := operatorSQL[op]
	return ok
}

func (op Operator) takesNoValue() bool {
	return op == IsNull || op == IsNotNull
}

func (op Operator) takesList() bool {
	return op == In || op == NotIn
}

func (op Operator) takesRange() bool {
	return op == Between || op == NotBetween
}
