package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/lrlichardi/laboratory/internal/domain/nomenclador"
	"github.com/lrlichardi/laboratory/internal/domain/results"
)

func (c *Client) GetOrder(ctx context.Context, orderID string) (*results.Order, error) {
	var dto orderDTO
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &dto); err != nil {
		return nil, err
	}
	return dto.toDomain(), nil
}

func (c *Client) BulkUpdate(ctx context.Context, orderID string, cmds []results.UpdateCommand) error {
	return c.do(ctx, http.MethodPut, "/orders/"+url.PathEscape(orderID)+"/analytes/bulk", toBulkRequest(cmds), nil)
}

func (c *Client) DeleteLine(ctx context.Context, lineID string) error {
	return c.do(ctx, http.MethodDelete, "/orders/items/"+url.PathEscape(lineID), nil, nil)
}

func (c *Client) UpdateStatus(ctx context.Context, orderID string, status results.OrderStatus) error {
	body := map[string]string{"status": string(status)}
	return c.do(ctx, http.MethodPut, "/orders/"+url.PathEscape(orderID)+"/status", body, nil)
}

func (c *Client) ListAll(ctx context.Context) ([]nomenclador.Entry, error) {
	var dto nomenListDTO
	if err := c.do(ctx, http.MethodGet, "/nomenclador/all", nil, &dto); err != nil {
		return nil, err
	}
	return dto.toDomain(), nil
}

func (c *Client) GetPriceFactor(ctx context.Context) (int64, error) {
	var dto factorDTO
	if err := c.do(ctx, http.MethodGet, "/price/price-factor", nil, &dto); err != nil {
		return 0, err
	}
	return dto.Factor, nil
}

func (c *Client) SetPriceFactor(ctx context.Context, factor int64) (int64, error) {
	var dto factorDTO
	if err := c.do(ctx, http.MethodPut, "/price/price-factor", factorDTO{Factor: factor}, &dto); err != nil {
		return 0, err
	}
	return dto.Factor, nil
}
