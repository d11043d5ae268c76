package model

import (
	"github.com/google/uuid"
)

// IfcElement is one building element extracted from an IFC source, keyed to
// the model version it was extracted for.
type IfcElement struct {
	ID             uuid.UUID `json:"id"`
	ModelVersionID uuid.UUID `json:"modelVersionId"`
	EntityLabel    int       `json:"entityLabel"`
	GlobalID       string    `json:"globalId"`
	TypeName       string    `json:"typeName"`
	Name           string    `json:"name,omitempty"`
}

// IfcPropertySet groups named properties on an element.
type IfcPropertySet struct {
	ID        uuid.UUID `json:"id"`
	ElementID uuid.UUID `json:"elementId"`
	Name      string    `json:"name"`
}

// IfcProperty is one named value in a property set.
type IfcProperty struct {
	ID            uuid.UUID `json:"id"`
	PropertySetID uuid.UUID `json:"propertySetId"`
	Name          string    `json:"name"`
	Value         string    `json:"value,omitempty"`
	Unit          string    `json:"unit,omitempty"`
}

// IfcQuantitySet groups measured quantities on an element.
type IfcQuantitySet struct {
	ID        uuid.UUID `json:"id"`
	ElementID uuid.UUID `json:"elementId"`
	Name      string    `json:"name"`
}

// IfcQuantity is one measured value in a quantity set.
type IfcQuantity struct {
	ID            uuid.UUID `json:"id"`
	QuantitySetID uuid.UUID `json:"quantitySetId"`
	Name          string    `json:"name"`
	Value         float64   `json:"value"`
	Unit          string    `json:"unit,omitempty"`
}
