package serviceability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/imroc/req/v3"
	"github.com/tidwall/gjson"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation"
)

const defaultTimeout = 5 * time.Second

type serviceableResponse struct {
	Serviceable bool `json:"serviceable"`
}

type defaultCarrierResponse struct {
	TransporterID string `json:"transporterId"`
}

// Client asks the transporter service about pincode coverage and the default
// allocation. It implements allocation.Serviceability and allocation.FallbackStrategy.
type Client struct {
	client *req.Client
	token  string
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		client: req.C().
			SetBaseURL(baseURL).
			SetTimeout(defaultTimeout).
			SetUserAgent("cjdquick-allocator/1.0"),
		token: token,
	}
}

// SetTimeout bounds every request on top of the caller's context.
func (c *Client) SetTimeout(d time.Duration) *Client {
	c.client.SetTimeout(d)
	return c
}

func (c *Client) request(ctx context.Context) *req.Request {
	r := c.client.R().SetContext(ctx)
	if c.token != "" {
		r.SetBearerAuthToken(c.token)
	}
	return r
}

// IsServiceable reports false without error for carriers the service does not know.
func (c *Client) IsServiceable(ctx context.Context, carrierID string, pincode string) (bool, error) {
	var out serviceableResponse
	resp, err := c.request(ctx).
		SetPathParam("carrier", carrierID).
		SetQueryParam("pincode", pincode).
		SetSuccessResult(&out).
		Get("/carriers/{carrier}/serviceability")
	if err != nil {
		return false, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if !resp.IsSuccessState() {
		return false, responseError(resp)
	}
	return out.Serviceable, nil
}

// DefaultCarrier posts the shipment facts and returns the carrier of the default
// allocation strategy.
func (c *Client) DefaultCarrier(ctx context.Context, sc *allocation.ShipmentContext) (string, error) {
	var out defaultCarrierResponse
	resp, err := c.request(ctx).
		SetHeader("content-type", "application/json").
		SetBodyJsonBytes([]byte(sc.String())).
		SetSuccessResult(&out).
		Post("/allocation/default")
	if err != nil {
		return "", err
	}
	if !resp.IsSuccessState() {
		return "", responseError(resp)
	}
	if out.TransporterID == "" {
		return "", allocation.ErrNoServiceableCarrier
	}
	return out.TransporterID, nil
}

func responseError(resp *req.Response) error {
	if msg := gjson.GetBytes(resp.Bytes(), "message").String(); msg != "" {
		return fmt.Errorf("serviceability %s: %s", resp.Status, msg)
	}
	return fmt.Errorf("serviceability %s", resp.Status)
}
