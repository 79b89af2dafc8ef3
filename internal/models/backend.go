package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidBackend   = errors.New("invalid backend")
	ErrDuplicateDefault = errors.New("this company already has a default connector")
)

// Backend is a configured connection profile to the remote pharmacy database.
type Backend struct {
	ID                int64         `json:"id"`
	Name              string        `json:"name"`
	Version           string        `json:"version"`
	Driver            string        `json:"driver"`
	Server            string        `json:"server"`
	Username          string        `json:"username"`
	Password          string        `json:"-"`
	PoolSize          int           `json:"pool_size"`
	MaxOverflow       int           `json:"max_overflow"`
	PoolTimeout       time.Duration `json:"pool_timeout"`
	DateDataStart     time.Time     `json:"date_data_start"`
	ImportInverse     bool          `json:"import_inverse"`
	SalePrefix        string        `json:"sale_prefix"`
	RxPrefix          string        `json:"rx_prefix"`
	DefaultTZ         string        `json:"default_tz"`
	CompanyID         int64         `json:"company_id"`
	IsDefault         bool          `json:"is_default"`
	Active            bool          `json:"active"`
	CanExport         bool          `json:"can_export"`
	FDBNDCControlCode string        `json:"fdb_ndc_control_code,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// NewBackend returns a backend carrying the connector defaults.
func NewBackend(name string) *Backend {
	start, _ := time.Parse(time.RFC3339, DefaultDateDataStart)
	return &Backend{
		Name:          name,
		Version:       DefaultVersion,
		Driver:        DriverODBC,
		PoolSize:      DefaultPoolSize,
		MaxOverflow:   DefaultMaxOverflow,
		PoolTimeout:   DefaultPoolTimeout,
		DateDataStart: start,
		ImportInverse: true,
		SalePrefix:    DefaultSalePrefix,
		RxPrefix:      DefaultRxPrefix,
		DefaultTZ:     "UTC",
		IsDefault:     true,
		Active:        true,
		CanExport:     true,
	}
}

func (b *Backend) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidBackend)
	}
	if strings.TrimSpace(b.Server) == "" {
		return fmt.Errorf("%w: %s: server is required", ErrInvalidBackend, b.Name)
	}
	switch b.Driver {
	case DriverSQLite, DriverODBC:
	default:
		return fmt.Errorf("%w: %s: unsupported driver %q", ErrInvalidBackend, b.Name, b.Driver)
	}
	if b.Driver == DriverODBC && (b.Username == "" || b.Password == "") {
		return fmt.Errorf("%w: %s: username and password are required", ErrInvalidBackend, b.Name)
	}
	if b.PoolSize <= 0 || b.MaxOverflow < 0 || b.PoolTimeout <= 0 {
		return fmt.Errorf("%w: %s: pool settings must be positive", ErrInvalidBackend, b.Name)
	}
	if b.DateDataStart.IsZero() {
		return fmt.Errorf("%w: %s: date_data_start is required", ErrInvalidBackend, b.Name)
	}
	if b.FDBNDCControlCode != "" {
		if len(b.FDBNDCControlCode) != 1 || b.FDBNDCControlCode[0] < '0' || b.FDBNDCControlCode[0] > '5' {
			return fmt.Errorf("%w: %s: fdb_ndc_control_code must be 0-5", ErrInvalidBackend, b.Name)
		}
	}
	return nil
}

// CheckDefaults rejects profiles that mark more than one backend as default
// for the same company.
func CheckDefaults(backends []*Backend) error {
	seen := make(map[int64]string)
	for _, b := range backends {
		if !b.IsDefault {
			continue
		}
		if other, ok := seen[b.CompanyID]; ok {
			return fmt.Errorf("%w: company %d has %s and %s", ErrDuplicateDefault, b.CompanyID, other, b.Name)
		}
		seen[b.CompanyID] = b.Name
	}
	return nil
}
