package repo

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jinzhu/gorm"
	"github.com/jinzhu/gorm/dialects/postgres"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation"
)

const tblName = "allocation_rules"

type dbRule struct {
	ID   string `gorm:"primary_key"`
	Rule postgres.Jsonb
}

func (d *dbRule) TableName() string {
	return tblName
}

type postgresRuleRepo struct {
	db *gorm.DB
}

func NewPostgresRuleRepo(connectionString string) (RuleRepo, error) {
	db, err := gorm.Open("postgres", connectionString)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&dbRule{}).Error; err != nil {
		db.Close()
		return nil, err
	}
	return &postgresRuleRepo{db: db}, nil
}

func (s *postgresRuleRepo) Name() string {
	return "postgres"
}

func (s *postgresRuleRepo) Get(id string) (*allocation.Rule, error) {
	var row dbRule
	err := s.db.First(&row, "id = ?", id).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var rule *allocation.Rule
	err = json.Unmarshal(row.Rule.RawMessage, &rule)
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *postgresRuleRepo) Save(rule *allocation.Rule) error {
	if rule == nil {
		return errNilRule
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var row dbRule
		var old *allocation.Rule
		err := tx.Set("gorm:query_option", "FOR UPDATE").First(&row, "id = ?", rule.ID).Error
		switch {
		case err == nil:
			if err := json.Unmarshal(row.Rule.RawMessage, &old); err != nil {
				return err
			}
		case !gorm.IsRecordNotFoundError(err):
			return err
		}

		if err := prepare(old, rule); err != nil {
			return err
		}

		buf, err := json.Marshal(rule)
		if err != nil {
			return err
		}
		return tx.Save(&dbRule{
			ID:   rule.ID,
			Rule: postgres.Jsonb{RawMessage: json.RawMessage(buf)},
		}).Error
	})
}

func (s *postgresRuleRepo) Remove(id string) error {
	if id == "" {
		return errors.New("id not specified")
	}
	res := s.db.Delete(&dbRule{ID: id})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *postgresRuleRepo) RemoveAll() error {
	return s.db.Delete(dbRule{}).Error
}

func (s *postgresRuleRepo) Each(skip int, limit int, fn func(rule *allocation.Rule)) error {
	query := s.db.Order("(rule->>'created')::timestamptz asc, id asc").Offset(skip)
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []dbRule
	if err := query.Find(&rows).Error; err != nil {
		return err
	}

	for _, row := range rows {
		var rule *allocation.Rule
		if err := json.Unmarshal(row.Rule.RawMessage, &rule); err != nil {
			return err
		}
		fn(rule)
	}
	return nil
}

func (s *postgresRuleRepo) Count() (count int) {
	s.db.Table(tblName).Count(&count)
	return
}

func (s *postgresRuleRepo) Active() (active int) {
	s.db.Model(&dbRule{}).Where("(rule->>'isActive')::boolean = ?", true).Count(&active)
	return
}

func (s *postgresRuleRepo) Close() {
	s.db.Close()
}
