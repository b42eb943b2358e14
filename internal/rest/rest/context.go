package rest

import (
	"github.com/farmlink/presence/internal/errors"
	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Ctx struct {
	*fasthttp.RequestCtx
}

func (c *Ctx) JSON(status HttpStatusCode, v interface{}) APIError {
	b, err := json.Marshal(v)
	if err != nil {
		c.SetStatusCode(InternalServerError)
		return errors.ErrInternalServerError().
			SetDetail("JSON Parsing Failed").
			SetFields(errors.Fields{"JSON_ERROR": err.Error()})
	}

	c.SetStatusCode(status)
	c.SetContentType("application/json")
	c.SetBody(b)

	return nil
}

// Bind decodes the JSON request body into v.
func (c *Ctx) Bind(v interface{}) APIError {
	if err := json.Unmarshal(c.PostBody(), v); err != nil {
		return errors.ErrInvalidRequest().SetDetail("Malformed Body").SetFields(errors.Fields{
			"error": err.Error(),
		})
	}

	return nil
}

func (c *Ctx) SetStatusCode(code HttpStatusCode) {
	c.RequestCtx.SetStatusCode(int(code))
}

func (c *Ctx) StatusCode() HttpStatusCode {
	return HttpStatusCode(c.RequestCtx.Response.StatusCode())
}

// Set the current authenticated user
func (c *Ctx) SetActor(userID string) {
	c.SetUserValue(string(AuthUserKey), userID)
}

// Get the current authenticated user
func (c *Ctx) GetActor() (string, bool) {
	return c.UserValue(AuthUserKey).String()
}
