package utils

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"bitbucket.org/mmdatafocus/invoice_bridge/config"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// CollectRuleViolations runs struct-tag validation and returns one message
// per violated rule, empty when the entity is clean. Writes never proceed
// past a non-empty result.
func CollectRuleViolations(obj interface{}) []string {
	err := validate.Struct(obj)
	if err == nil {
		return nil
	}
	invalid, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}
	rules := make([]string, 0, len(invalid))
	for _, fe := range invalid {
		rules = append(rules, describeRule(fe))
	}
	return rules
}

func describeRule(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must not be negative", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	default:
		return fmt.Sprintf("%s failed rule %s", field, fe.Tag())
	}
}

// ValidateResourceId checks that a row with the given id exists.
// May return ErrorRecordNotFound.
func ValidateResourceId[T any](ctx context.Context, id interface{}) error {
	count, err := ResourceCountWhere[T](ctx, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}
	return nil
}

// ValidateUnique rejects a value already present in column, ignoring
// exceptId on the update path.
func ValidateUnique[T any](ctx context.Context, column string, value interface{}, exceptId interface{}) error {
	var count int64
	var err error
	if reflect.ValueOf(exceptId).IsZero() {
		count, err = ResourceCountWhere[T](ctx, column+" = ?", value)
	} else {
		count, err = ResourceCountWhere[T](ctx, column+" = ? AND NOT id = ?", value, exceptId)
	}
	if err != nil {
		return err
	}
	if count > 0 {
		return &IntegrityError{
			Table:      strings.ToLower(GetTypeName[T]()),
			Constraint: "unique " + column,
			Detail:     fmt.Sprintf("duplicate %s %v", column, value),
		}
	}
	return nil
}

// ResourceCountWhere counts rows of T matching condition.
func ResourceCountWhere[T any](ctx context.Context, condition string, value ...interface{}) (int64, error) {
	var model T
	db := config.GetDB()
	var count int64
	if err := db.WithContext(ctx).Model(&model).Where(condition, value...).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
