package results

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lrlichardi/laboratory/internal/platform/db"
)

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewOrderRepoPG(pool *pgxpool.Pool) OrderRepository {
	return &orderRepoPG{pool: pool}
}

func (r *orderRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

// parseID rejects ids that cannot exist so they surface as not found rather
// than as a database error.
func parseID(kind, id string) (uuid.UUID, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return u, nil
}

const orderCols = `o.id::text, o.order_number, COALESCE(o.title, ''), o.status, o.created_at, COALESCE(o.notes, ''),
	p.id::text, p.dni, p.first_name, p.last_name, p.birth_date, COALESCE(p.sex, ''), COALESCE(p.obra_social, ''),
	COALESCE(d.full_name, '')`

const analyteCols = `oi.id::text, et.id::text, et.code, et.name,
	a.id::text, a.item_def_id::text, a.value_num::float8, a.value_text, COALESCE(a.unit, ''), a.status,
	def.key, def.label, COALESCE(def.unit, ''), def.kind, def.sort_order, COALESCE(def.ref_text, ''), COALESCE(def.method, '')`

func (r *orderRepoPG) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	id, err := parseID("order", orderID)
	if err != nil {
		return nil, err
	}

	var o Order
	var birth *time.Time
	err = r.conn(ctx).QueryRow(ctx, `SELECT `+orderCols+`
		FROM test_order o
		JOIN patient p ON p.id = o.patient_id
		LEFT JOIN doctor d ON d.id = o.doctor_id
		WHERE o.id = $1`, id).Scan(
		&o.ID, &o.OrderNumber, &o.Title, &o.Status, &o.CreatedAt, &o.Notes,
		&o.Patient.ID, &o.Patient.DNI, &o.Patient.FirstName, &o.Patient.LastName, &birth, &o.Patient.Sex, &o.Patient.ObraSocial,
		&o.DoctorName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	o.PatientID = o.Patient.ID
	o.Patient.BirthDate = birth

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+analyteCols+`
		FROM order_item oi
		JOIN exam_type et ON et.id = oi.exam_type_id
		JOIN order_analyte a ON a.order_item_id = oi.id
		JOIN exam_item_def def ON def.id = a.item_def_id
		WHERE oi.order_id = $1
		ORDER BY oi.created_at, oi.id, def.sort_order, a.id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			lineID string
			et     ExamType
			a      Analyte
			kind   string
		)
		if err := rows.Scan(&lineID, &et.ID, &et.Code, &et.Name,
			&a.ID, &a.ItemDefID, &a.ValueNum, &a.ValueText, &a.Unit, &a.Status,
			&a.ItemDef.Key, &a.ItemDef.Label, &a.ItemDef.Unit, &kind, &a.ItemDef.SortOrder, &a.ItemDef.RefText, &a.ItemDef.Method); err != nil {
			return nil, err
		}
		a.OrderLineID = lineID
		a.ItemDef.ID = a.ItemDefID
		a.ItemDef.Kind = ParseKind(kind)

		n := len(o.Lines)
		if n == 0 || o.Lines[n-1].ID != lineID {
			o.Lines = append(o.Lines, OrderLine{ID: lineID, ExamTypeID: et.ID, ExamType: et})
			n++
		}
		o.Lines[n-1].Analytes = append(o.Lines[n-1].Analytes, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &o, nil
}

// BulkUpdate applies every command in one transaction. An analyte that does
// not belong to the given line and order aborts the whole update. Analytes
// with a value become DONE, cleared ones PENDING again.
func (r *orderRepoPG) BulkUpdate(ctx context.Context, orderID string, cmds []UpdateCommand) error {
	oid, err := parseID("order", orderID)
	if err != nil {
		return err
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		for _, cmd := range cmds {
			aid, err := parseID("analyte", cmd.AnalyteID)
			if err != nil {
				return err
			}
			lid, err := parseID("order line", cmd.OrderLineID)
			if err != nil {
				return err
			}

			var num, text *string
			if n, ok := cmd.Value.Number(); ok {
				s := n.String()
				num = &s
			}
			if t, ok := cmd.Value.Text(); ok {
				text = &t
			}

			tag, err := r.conn(ctx).Exec(ctx, `
				UPDATE order_analyte a
				SET value_num = $3::text::numeric,
					value_text = $4,
					status = CASE WHEN $3::text IS NULL AND $4::text IS NULL THEN 'PENDING' ELSE 'DONE' END,
					updated_at = NOW()
				FROM order_item oi
				WHERE a.id = $1 AND a.order_item_id = $2 AND oi.id = a.order_item_id AND oi.order_id = $5`,
				aid, lid, num, text, oid)
			if err != nil {
				return fmt.Errorf("update analyte %s: %w", cmd.AnalyteID, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("analyte %s on line %s: %w", cmd.AnalyteID, cmd.OrderLineID, ErrNotFound)
			}
		}
		return nil
	})
}

func (r *orderRepoPG) DeleteLine(ctx context.Context, lineID string) error {
	id, err := parseID("order line", lineID)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM order_item WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order line %s: %w", lineID, ErrNotFound)
	}
	return nil
}

func (r *orderRepoPG) UpdateStatus(ctx context.Context, orderID string, status OrderStatus) error {
	id, err := parseID("order", orderID)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE test_order SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return nil
}
