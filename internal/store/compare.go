package store

import (
	"fmt"
	"strings"
	"time"
)

// Compare orders two field values of the same kind: numbers, strings, times
// or booleans. It returns -1, 0 or 1.
func Compare(a, b interface{}) (int, error) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		}
		return 0, nil
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		return strings.Compare(av, bv), nil
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		return av.Compare(bv), nil
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		switch {
		case av == bv:
			return 0, nil
		case !av:
			return -1, nil
		}
		return 1, nil
	case nil:
		if b == nil {
			return 0, nil
		}
		return -1, nil
	}
	return 0, fmt.Errorf("unsupported value type %T", a)
}

// Matches reports whether value satisfies the filter operator against target.
func Matches(value interface{}, op Operator, target interface{}) bool {
	c, err := Compare(value, target)
	if err != nil {
		return false
	}
	switch op {
	case OpEqual:
		return c == 0
	case OpLessThan:
		return c < 0
	case OpLessOrEqual:
		return c <= 0
	case OpGreaterThan:
		return c > 0
	case OpGreaterOrEqual:
		return c >= 0
	}
	return false
}
