package integration

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lrlichardi/laboratory/internal/domain/nomenclador"
)

func TestNomencladorRepoPG(t *testing.T) {
	ctx := context.Background()
	mustExec(t, ctx, `INSERT INTO nomenclador (codigo, determinacion, ub) VALUES
		('660475', 'HEMOGRAMA', 6), ('660412', 'GLUCEMIA', 1.5)
		ON CONFLICT (codigo) DO UPDATE SET determinacion = EXCLUDED.determinacion, ub = EXCLUDED.ub`)

	repo := nomenclador.NewRepoPG(globalDB.Pool)
	entries, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error: %v", err)
	}
	found := map[string]string{}
	for _, e := range entries {
		found[e.Code] = e.UB.String()
	}
	if found["660475"] != "6" || found["660412"] != "1.5" {
		t.Errorf("unexpected entries %v", found)
	}

	if f, err := repo.SetPriceFactor(ctx, 150); err != nil || f != 150 {
		t.Fatalf("SetPriceFactor() = %d, %v", f, err)
	}
	if f, err := repo.GetPriceFactor(ctx); err != nil || f != 150 {
		t.Errorf("GetPriceFactor() = %d, %v", f, err)
	}

	svc := nomenclador.NewService(repo, time.Minute, zerolog.Nop())
	est, err := svc.Estimate(ctx, nomenclador.EstimateRequest{Text: "Solicito 660475 y 660412"})
	if err != nil {
		t.Fatalf("Estimate() error: %v", err)
	}
	if est.Total.String() != "1125" {
		t.Errorf("expected (6 + 1.5) x 150 = 1125, got %s", est.Total)
	}
}
