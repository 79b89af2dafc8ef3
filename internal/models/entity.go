package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownEntity = errors.New("unknown entity type")

// EntityType tags a kind of remote record that can be bound locally.
type EntityType string

const (
	EntityStore        EntityType = "store"
	EntityItem         EntityType = "item"
	EntityPatient      EntityType = "patient"
	EntityPhysician    EntityType = "physician"
	EntityPrescription EntityType = "prescription"
	EntitySale         EntityType = "sale"
	EntityAddress      EntityType = "address"
	EntityPhone        EntityType = "phone"
	EntityPicking      EntityType = "picking"
	EntityInvoice      EntityType = "invoice"
	EntityFDBRoute     EntityType = "fdb_route"
	EntityFDBForm      EntityType = "fdb_form"
	EntityFDBUnit      EntityType = "fdb_unit"
	EntityFDBNDC       EntityType = "fdb_ndc"
)

const (
	FieldAddDate        = "add_date"
	FieldChgDate        = "chg_date"
	FieldPrimaryPayDate = "primary_pay_date"
	FieldDEA            = "dea"
)

// EntityInfo describes how an entity type is located and tracked on the remote.
type EntityInfo struct {
	Type EntityType
	// WatermarkKey names the per-backend "from date" slot, e.g. import_patients_from_date.
	WatermarkKey  string
	CreatedField  string
	ModifiedField string
	Table         string
	PrimaryKey    string
	// Trackable entities are imported incrementally by date window.
	Trackable bool
	// Metadata entities are synchronized by the structure guard before any pass.
	Metadata bool
}

// ChangeFields returns the creation and modification fields, in dispatch order.
func (e EntityInfo) ChangeFields() []string {
	created := e.CreatedField
	if created == "" {
		created = FieldAddDate
	}
	modified := e.ModifiedField
	if modified == "" {
		modified = FieldChgDate
	}
	return []string{created, modified}
}

func (e EntityInfo) String() string {
	return string(e.Type)
}

// DefaultEntities is the closed table of entity types known to the connector.
func DefaultEntities() []EntityInfo {
	return []EntityInfo{
		{Type: EntityStore, Table: "csstore", PrimaryKey: "store_id", Metadata: true},
		{Type: EntityItem, WatermarkKey: "import_items_from_date", Table: "item", PrimaryKey: "item_id", Trackable: true},
		{Type: EntityPatient, WatermarkKey: "import_patients_from_date", Table: "cppat", PrimaryKey: "pat_id", Trackable: true},
		{Type: EntityPhysician, WatermarkKey: "import_physicians_from_date", Table: "cpmd", PrimaryKey: "md_id", Trackable: true},
		{Type: EntityPrescription, WatermarkKey: "import_prescriptions_from_date", Table: "cprx", PrimaryKey: "rx_id", Trackable: true},
		{Type: EntitySale, WatermarkKey: "import_sales_from_date", Table: "cssoline", PrimaryKey: "line_id", Trackable: true},
		{Type: EntityAddress, WatermarkKey: "import_addresses_from_date", Table: "csaddr", PrimaryKey: "addr_id", Trackable: true},
		{Type: EntityPhone, WatermarkKey: "import_phones_from_date", Table: "csphone", PrimaryKey: "phone_id", Trackable: true},
		{Type: EntityPicking, WatermarkKey: "import_pickings_from_date", Table: "csso_disp", PrimaryKey: "disp_id", Trackable: true},
		{
			Type:          EntityInvoice,
			WatermarkKey:  "import_invoices_from_date",
			ModifiedField: FieldPrimaryPayDate,
			Table:         "cssoline_pay",
			PrimaryKey:    "line_id",
			Trackable:     true,
		},
		{Type: EntityFDBRoute, Table: "fdrrouted", PrimaryKey: "gcrt"},
		{Type: EntityFDBForm, Table: "fdrdosed", PrimaryKey: "gcdf"},
		{Type: EntityFDBUnit, Table: "fdrunit", PrimaryKey: "str60"},
		{Type: EntityFDBNDC, Table: "fdrndc", PrimaryKey: "ndc"},
	}
}

// ParseEntityType normalizes a user supplied entity name.
func ParseEntityType(raw string) (EntityType, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = strings.ReplaceAll(name, "-", "_")
	for _, info := range DefaultEntities() {
		if string(info.Type) == name {
			return info.Type, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntity, raw)
}
