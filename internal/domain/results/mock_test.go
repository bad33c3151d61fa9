package results

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// -- Fixtures --

func an(id, key, label string, kind Kind, sort int) Analyte {
	return Analyte{
		ID:        id,
		ItemDefID: "def-" + id,
		Status:    AnalytePending,
		ItemDef:   ItemDef{ID: "def-" + id, Key: key, Label: label, Kind: kind, SortOrder: sort},
	}
}

func withNum(a Analyte, v float64) Analyte {
	a.ValueNum = &v
	a.Status = AnalyteDone
	return a
}

func withText(a Analyte, v string) Analyte {
	a.ValueText = &v
	a.Status = AnalyteDone
	return a
}

func line(id, code, name string, analytes ...Analyte) OrderLine {
	for i := range analytes {
		analytes[i].OrderLineID = id
	}
	return OrderLine{ID: id, ExamTypeID: "et-" + code, ExamType: ExamType{ID: "et-" + code, Code: code, Name: name}, Analytes: analytes}
}

func hemogramLine() OrderLine {
	return line("L-HEMO", "475", "HEMOGRAMA",
		an("a-leuc", "LEUCOCITOS", "Leucocitos", KindNumeric, 1),
		an("a-neu", "NEU_SEG", "Neutrófilos segmentados", KindNumeric, 2),
		an("a-eos", "EOS", "Eosinófilos", KindNumeric, 3),
		an("a-bas", "BAS", "Basófilos", KindNumeric, 4),
		an("a-lin", "LIN", "Linfocitos", KindNumeric, 5),
		an("a-mon", "MON", "Monocitos", KindNumeric, 6),
		an("a-neu-abs", "NEU_SEG_ABS", "Neutrófilos segmentados (Abs)", KindNumeric, 7),
		an("a-eos-abs", "EOS_ABS", "Eosinófilos (Abs)", KindNumeric, 8),
		an("a-bas-abs", "BAS_ABS", "Basófilos (Abs)", KindNumeric, 9),
		an("a-lin-abs", "LIN_ABS", "Linfocitos (Abs)", KindNumeric, 10),
		an("a-mon-abs", "MON_ABS", "Monocitos (Abs)", KindNumeric, 11),
	)
}

func urineLine() OrderLine {
	return line("L-URI", "660711", "ORINA COMPLETA",
		withText(an("u-color", "EF_COLOR", "Color", KindText, 1), "amarillo"),
		an("u-prot", "EQ_PROTEINAS", "Proteínas", KindText, 2),
		an("u-glu", "EQ_GLUCOSA", "Glucosa", KindText, 1),
		an("u-urob", "EQ_UROBILINOGENO", "Urobilinógeno", KindText, 3),
		an("u-leuc", "EM_LEUCOCITOS", "Leucocitos", KindText, 1),
	)
}

func glucoseLine() OrderLine {
	a := withNum(an("g-1", "GLUCEMIA", "Glucemia", KindNumeric, 1), 92)
	a.ItemDef.Unit = "mg/dl"
	a.ItemDef.RefText = "70 - 110"
	a.ItemDef.Method = "Enzimático"
	return line("L-GLU", "412", "GLUCEMIA", a)
}

func testOrder(lines ...OrderLine) *Order {
	birth := time.Date(1984, 3, 10, 0, 0, 0, 0, time.UTC)
	return &Order{
		ID:          "ord-1",
		OrderNumber: "2024-0001",
		Status:      OrderPending,
		CreatedAt:   time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC),
		PatientID:   "pat-1",
		Patient: Patient{
			ID: "pat-1", DNI: "30111222", FirstName: "Ana", LastName: "Pérez",
			BirthDate: &birth, Sex: "Femenino", ObraSocial: "OSDE",
		},
		DoctorName: "Dr. Gómez",
		Lines:      lines,
	}
}

// -- Mock Repository --

type mockOrderRepo struct {
	mu          sync.Mutex
	orders      map[string]*Order
	bulkErr     error
	deleteErr   error
	getErr      error
	statusErr   error
	bulkCalls   [][]UpdateCommand
	deleteCalls []string
	getCalls    int

	// Context errors observed by the last BulkUpdate and GetOrder calls.
	bulkCtxErr error
	getCtxErr  error

	// When set, BulkUpdate signals entered and waits for release.
	entered chan struct{}
	release chan struct{}
}

func newMockOrderRepo(orders ...*Order) *mockOrderRepo {
	m := &mockOrderRepo{orders: map[string]*Order{}}
	for _, o := range orders {
		m.orders[o.ID] = o.Clone()
	}
	return m
}

func (m *mockOrderRepo) GetOrder(ctx context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	m.getCtxErr = ctx.Err()
	if m.getErr != nil {
		return nil, m.getErr
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return o.Clone(), nil
}

func (m *mockOrderRepo) BulkUpdate(ctx context.Context, id string, cmds []UpdateCommand) error {
	if m.entered != nil {
		m.entered <- struct{}{}
		<-m.release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulkCtxErr = ctx.Err()
	m.bulkCalls = append(m.bulkCalls, cmds)
	if m.bulkErr != nil {
		return m.bulkErr
	}
	o, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	for _, cmd := range cmds {
		_, a, ok := o.FindAnalyte(cmd.AnalyteID)
		if !ok {
			return fmt.Errorf("analyte %s: %w", cmd.AnalyteID, ErrNotFound)
		}
		a.ValueNum, a.ValueText, a.Status = nil, nil, AnalytePending
		if n, ok := cmd.Value.Number(); ok {
			f := n.InexactFloat64()
			a.ValueNum = &f
			a.Status = AnalyteDone
		}
		if t, ok := cmd.Value.Text(); ok {
			a.ValueText = &t
			a.Status = AnalyteDone
		}
	}
	return nil
}

func (m *mockOrderRepo) DeleteLine(_ context.Context, lineID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls = append(m.deleteCalls, lineID)
	if m.deleteErr != nil {
		return m.deleteErr
	}
	for id, o := range m.orders {
		if _, ok := o.Line(lineID); ok {
			m.orders[id] = o.WithoutLine(lineID)
			return nil
		}
	}
	return fmt.Errorf("order line %s: %w", lineID, ErrNotFound)
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, id string, status OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return m.statusErr
	}
	o, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	o.Status = status
	return nil
}

func (m *mockOrderRepo) ctxErrs() (bulk, get error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bulkCtxErr, m.getCtxErr
}

func (m *mockOrderRepo) calls() (bulk, get, del int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bulkCalls), m.getCalls, len(m.deleteCalls)
}
