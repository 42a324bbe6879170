package config

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"
)

var (
	ErrExpressionOrListMustBeStringOrObject = errors.New("config: this must be a string or an object")
	ErrExpressionEmpty                      = errors.New("config: this expression is empty")
	ErrExpressionCantHaveBoth               = errors.New("config: expression block can't contain multiple expression types")
)

// ExpressionOrList is either a single CEL expression or a list of them that
// must all (or any) be true.
type ExpressionOrList struct {
	Expression string   `json:"-"`
	All        []string `json:"all,omitempty"`
	Any        []string `json:"any,omitempty"`
}

func (eol ExpressionOrList) Equal(rhs *ExpressionOrList) bool {
	if eol.Expression != rhs.Expression {
		return false
	}

	if !slices.Equal(eol.All, rhs.All) {
		return false
	}

	if !slices.Equal(eol.Any, rhs.Any) {
		return false
	}

	return true
}

// String renders the block as one CEL statement.
func (eol ExpressionOrList) String() string {
	switch {
	case len(eol.All) != 0:
		return join(eol.All, " && ")
	case len(eol.Any) != 0:
		return join(eol.Any, " || ")
	}

	return eol.Expression
}

func join(clauses []string, op string) string {
	if len(clauses) == 1 {
		return clauses[0]
	}

	parts := make([]string, len(clauses))
	for i, c := range clauses {
		parts[i] = "( " + c + " )"
	}

	return strings.Join(parts, op)
}

func (eol ExpressionOrList) MarshalJSON() ([]byte, error) {
	switch {
	case len(eol.All) == 1 && len(eol.Any) == 0:
		return json.Marshal(eol.All[0])
	case len(eol.Any) == 1 && len(eol.All) == 0:
		return json.Marshal(eol.Any[0])
	case len(eol.All) != 0 || len(eol.Any) != 0:
		type RawExpressionOrList ExpressionOrList
		return json.Marshal(RawExpressionOrList(eol))
	}

	return json.Marshal(eol.Expression)
}

func (eol *ExpressionOrList) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return ErrExpressionOrListMustBeStringOrObject
	}

	switch string(data[0]) {
	case `"`: // string
		return json.Unmarshal(data, &eol.Expression)
	case "{": // object
		type RawExpressionOrList ExpressionOrList
		var val RawExpressionOrList
		if err := json.Unmarshal(data, &val); err != nil {
			return err
		}
		eol.All = val.All
		eol.Any = val.Any

		return nil
	}

	return ErrExpressionOrListMustBeStringOrObject
}

func (eol *ExpressionOrList) Valid() error {
	if len(eol.All) != 0 && len(eol.Any) != 0 {
		return ErrExpressionCantHaveBoth
	}

	if eol.Expression == "" && len(eol.All) == 0 && len(eol.Any) == 0 {
		return ErrExpressionEmpty
	}

	return nil
}
