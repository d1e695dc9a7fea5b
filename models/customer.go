package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/invoice_bridge/config"
	"bitbucket.org/mmdatafocus/invoice_bridge/utils"
	"gorm.io/gorm"
)

// Customer is the optional dedup target an invoice's buyer snapshot may
// point at. The migration never creates customers on its own.
type Customer struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name" validate:"required"`
	TaxId     string    `gorm:"size:100;index" json:"tax_id"`
	Address   string    `gorm:"size:255" json:"address"`
	Phone     string    `gorm:"size:50" json:"phone"`
	Email     string    `gorm:"size:100" json:"email" validate:"omitempty,email"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// CustomerMatcher decides whether a buyer snapshot corresponds to a known
// customer. The matching key (tax id vs email) is deliberately not decided
// here; deployments plug in their own policy.
type CustomerMatcher interface {
	Match(ctx context.Context, buyer BuyerDetails) (*Customer, error)
}

// NoopMatcher is the default: never links a customer.
type NoopMatcher struct{}

func (NoopMatcher) Match(ctx context.Context, buyer BuyerDetails) (*Customer, error) {
	return nil, nil
}

func (c *Customer) RuleViolations() []string {
	rules := utils.CollectRuleViolations(c)
	if c.Phone != "" {
		if err := utils.ValidatePhoneNumber(c.Phone, utils.CountryCode); err != nil {
			rules = append(rules, "phone is not a valid number")
		}
	}
	return rules
}

func GetCustomer(ctx context.Context, id int) (*Customer, error) {
	cached, err := utils.RetrieveRedis[Customer](id)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}
	db := config.GetDB()
	var customer Customer
	if err := db.WithContext(ctx).First(&customer, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := utils.StoreRedis[Customer](&customer, customer.ID); err != nil {
		return nil, err
	}
	return &customer, nil
}

func CreateCustomer(ctx context.Context, customer *Customer) error {
	if rules := customer.RuleViolations(); len(rules) > 0 {
		return &utils.ValidationError{Entity: "customer " + customer.Name, Rules: rules}
	}
	db := config.GetDB()
	return db.WithContext(ctx).Create(customer).Error
}

func UpdateCustomer(ctx context.Context, customer *Customer) error {
	if err := utils.ValidateResourceId[Customer](ctx, customer.ID); err != nil {
		return err
	}
	if rules := customer.RuleViolations(); len(rules) > 0 {
		return &utils.ValidationError{Entity: "customer " + customer.Name, Rules: rules}
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Select("*").Updates(customer).Error; err != nil {
		return err
	}
	return utils.RemoveRedisItem[Customer](customer.ID)
}
