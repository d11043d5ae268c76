package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/store"
)

// ReplaceExtraction swaps the full extraction result for a version in one
// transaction. Re-running an extraction never leaves a partial merge.
func (s *Store) ReplaceExtraction(ctx context.Context, modelVersionID uuid.UUID, elements []store.ElementRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	// Property and quantity rows cascade from the elements.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM ifc_elements WHERE model_version_id = ?`, modelVersionID.String()); err != nil {
		return fmt.Errorf("clearing prior extraction: %w", err)
	}

	for i := range elements {
		if err := insertElement(ctx, tx, modelVersionID, &elements[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func insertElement(ctx context.Context, tx *sql.Tx, versionID uuid.UUID, rec *store.ElementRecord) error {
	el := &rec.Element
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ifc_elements (id, model_version_id, entity_label, global_id, type_name, name)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		el.ID.String(), versionID.String(), el.EntityLabel, el.GlobalID, el.TypeName, el.Name); err != nil {
		return fmt.Errorf("inserting element: %w", err)
	}

	for _, ps := range rec.PropertySets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ifc_property_sets (id, element_id, name) VALUES (?, ?, ?)`,
			ps.Set.ID.String(), el.ID.String(), ps.Set.Name); err != nil {
			return fmt.Errorf("inserting property set: %w", err)
		}
		for _, p := range ps.Properties {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO ifc_properties (id, property_set_id, name, value, unit)
				 VALUES (?, ?, ?, ?, ?)`,
				p.ID.String(), ps.Set.ID.String(), p.Name, p.Value, p.Unit); err != nil {
				return fmt.Errorf("inserting property: %w", err)
			}
		}
	}

	for _, qs := range rec.QuantitySets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ifc_quantity_sets (id, element_id, name) VALUES (?, ?, ?)`,
			qs.Set.ID.String(), el.ID.String(), qs.Set.Name); err != nil {
			return fmt.Errorf("inserting quantity set: %w", err)
		}
		for _, q := range qs.Quantities {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO ifc_quantities (id, quantity_set_id, name, value, unit)
				 VALUES (?, ?, ?, ?, ?)`,
				q.ID.String(), qs.Set.ID.String(), q.Name, q.Value, q.Unit); err != nil {
				return fmt.Errorf("inserting quantity: %w", err)
			}
		}
	}
	return nil
}

// QueryElements returns elements of a version matching the filter, ordered
// by entity label, plus the pre-paging total.
func (s *Store) QueryElements(ctx context.Context, modelVersionID uuid.UUID, filter store.PropertyFilter) ([]store.ElementRecord, int, error) {
	where := `e.model_version_id = ?`
	args := []any{modelVersionID.String()}
	if filter.EntityLabel != nil {
		where += ` AND e.entity_label = ?`
		args = append(args, *filter.EntityLabel)
	}
	if filter.GlobalID != "" {
		where += ` AND e.global_id = ?`
		args = append(args, filter.GlobalID)
	}
	if filter.TypeName != "" {
		where += ` AND e.type_name = ?`
		args = append(args, filter.TypeName)
	}
	if filter.Name != "" {
		where += ` AND e.name LIKE ?`
		args = append(args, "%"+filter.Name+"%")
	}
	if filter.PropertySetName != "" {
		where += ` AND EXISTS (SELECT 1 FROM ifc_property_sets ps WHERE ps.element_id = e.id AND ps.name = ?)`
		args = append(args, filter.PropertySetName)
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ifc_elements e WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting elements: %w", err)
	}

	p := filter.Page.Clamp()
	args = append(args, p.Size, p.Offset())
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.model_version_id, e.entity_label, e.global_id, e.type_name, e.name
		 FROM ifc_elements e WHERE `+where+`
		 ORDER BY e.entity_label LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying elements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []store.ElementRecord
	for rows.Next() {
		el, err := scanElement(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, store.ElementRecord{Element: *el})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating element rows: %w", err)
	}

	for i := range result {
		if err := s.loadSets(ctx, &result[i]); err != nil {
			return nil, 0, err
		}
	}
	return result, total, nil
}

// GetElement retrieves one element with its full property and quantity sets.
func (s *Store) GetElement(ctx context.Context, elementID uuid.UUID) (*store.ElementRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, model_version_id, entity_label, global_id, type_name, name
		 FROM ifc_elements WHERE id = ?`, elementID.String())
	el, err := scanElement(row)
	if err != nil {
		return nil, err
	}
	rec := store.ElementRecord{Element: *el}
	if err := s.loadSets(ctx, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanElement(sc scanner) (*model.IfcElement, error) {
	var (
		el            model.IfcElement
		id, versionID string
	)
	if err := sc.Scan(&id, &versionID, &el.EntityLabel, &el.GlobalID, &el.TypeName, &el.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning element row: %w", err)
	}

	var err error
	if el.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing element id: %w", err)
	}
	if el.ModelVersionID, err = uuid.Parse(versionID); err != nil {
		return nil, fmt.Errorf("parsing version id: %w", err)
	}
	return &el, nil
}

func (s *Store) loadSets(ctx context.Context, rec *store.ElementRecord) error {
	elementID := rec.Element.ID.String()

	psRows, err := s.db.QueryContext(ctx,
		`SELECT id, element_id, name FROM ifc_property_sets WHERE element_id = ? ORDER BY name`, elementID)
	if err != nil {
		return fmt.Errorf("querying property sets: %w", err)
	}
	defer func() { _ = psRows.Close() }()

	for psRows.Next() {
		var (
			ps       model.IfcPropertySet
			id, elID string
		)
		if err := psRows.Scan(&id, &elID, &ps.Name); err != nil {
			return fmt.Errorf("scanning property set row: %w", err)
		}
		if ps.ID, err = uuid.Parse(id); err != nil {
			return fmt.Errorf("parsing property set id: %w", err)
		}
		if ps.ElementID, err = uuid.Parse(elID); err != nil {
			return fmt.Errorf("parsing element id: %w", err)
		}

		props, err := s.loadProperties(ctx, ps.ID)
		if err != nil {
			return err
		}
		rec.PropertySets = append(rec.PropertySets, store.PropertySetRecord{Set: ps, Properties: props})
	}
	if err := psRows.Err(); err != nil {
		return fmt.Errorf("iterating property set rows: %w", err)
	}

	qsRows, err := s.db.QueryContext(ctx,
		`SELECT id, element_id, name FROM ifc_quantity_sets WHERE element_id = ? ORDER BY name`, elementID)
	if err != nil {
		return fmt.Errorf("querying quantity sets: %w", err)
	}
	defer func() { _ = qsRows.Close() }()

	for qsRows.Next() {
		var (
			qs       model.IfcQuantitySet
			id, elID string
		)
		if err := qsRows.Scan(&id, &elID, &qs.Name); err != nil {
			return fmt.Errorf("scanning quantity set row: %w", err)
		}
		if qs.ID, err = uuid.Parse(id); err != nil {
			return fmt.Errorf("parsing quantity set id: %w", err)
		}
		if qs.ElementID, err = uuid.Parse(elID); err != nil {
			return fmt.Errorf("parsing element id: %w", err)
		}

		quantities, err := s.loadQuantities(ctx, qs.ID)
		if err != nil {
			return err
		}
		rec.QuantitySets = append(rec.QuantitySets, store.QuantitySetRecord{Set: qs, Quantities: quantities})
	}
	if err := qsRows.Err(); err != nil {
		return fmt.Errorf("iterating quantity set rows: %w", err)
	}
	return nil
}

func (s *Store) loadProperties(ctx context.Context, setID uuid.UUID) ([]model.IfcProperty, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, property_set_id, name, value, unit FROM ifc_properties
		 WHERE property_set_id = ? ORDER BY name`, setID.String())
	if err != nil {
		return nil, fmt.Errorf("querying properties: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []model.IfcProperty
	for rows.Next() {
		var (
			p        model.IfcProperty
			id, psID string
		)
		if err := rows.Scan(&id, &psID, &p.Name, &p.Value, &p.Unit); err != nil {
			return nil, fmt.Errorf("scanning property row: %w", err)
		}
		if p.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parsing property id: %w", err)
		}
		if p.PropertySetID, err = uuid.Parse(psID); err != nil {
			return nil, fmt.Errorf("parsing property set id: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating property rows: %w", err)
	}
	return result, nil
}

func (s *Store) loadQuantities(ctx context.Context, setID uuid.UUID) ([]model.IfcQuantity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, quantity_set_id, name, value, unit FROM ifc_quantities
		 WHERE quantity_set_id = ? ORDER BY name`, setID.String())
	if err != nil {
		return nil, fmt.Errorf("querying quantities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []model.IfcQuantity
	for rows.Next() {
		var (
			q        model.IfcQuantity
			id, qsID string
		)
		if err := rows.Scan(&id, &qsID, &q.Name, &q.Value, &q.Unit); err != nil {
			return nil, fmt.Errorf("scanning quantity row: %w", err)
		}
		if q.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parsing quantity id: %w", err)
		}
		if q.QuantitySetID, err = uuid.Parse(qsID); err != nil {
			return nil, fmt.Errorf("parsing quantity set id: %w", err)
		}
		result = append(result, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating quantity rows: %w", err)
	}
	return result, nil
}
