package crm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Errors  json.RawMessage `json:"errors"`
}

// Response wraps one CRM reply. Transport failures are represented by a
// zero status code and the transport error as message.
type Response struct {
	status int
	body   envelope
	raw    []byte
	err    error
}

func newResponse(status int, raw []byte) *Response {
	r := &Response{status: status, raw: raw}
	if len(raw) > 0 {
		// Non-JSON bodies keep an empty envelope.
		_ = json.Unmarshal(raw, &r.body)
	}
	return r
}

func transportError(err error) *Response {
	return &Response{err: err}
}

// StatusCode returns the HTTP status, 0 on transport failure.
func (r *Response) StatusCode() int {
	return r.status
}

// IsSuccess honours an explicit "success" flag in the body and falls back
// to the status code.
func (r *Response) IsSuccess() bool {
	if r.err != nil || r.status == 0 {
		return false
	}
	if r.body.Success != nil {
		return *r.body.Success && r.status < 300
	}
	return r.status >= 200 && r.status < 300
}

func (r *Response) IsAuthError() bool {
	return r.status == http.StatusUnauthorized || r.status == http.StatusForbidden
}

func (r *Response) IsValidationError() bool {
	return r.status == http.StatusUnprocessableEntity
}

func (r *Response) IsNotFound() bool {
	return r.status == http.StatusNotFound
}

func (r *Response) IsRateLimited() bool {
	return r.status == http.StatusTooManyRequests
}

func (r *Response) IsServerError() bool {
	return r.status >= 500
}

// Data returns the raw "data" member of the body.
func (r *Response) Data() json.RawMessage {
	return r.body.Data
}

// Raw returns the undecoded body.
func (r *Response) Raw() []byte {
	return r.raw
}

// DecodeData unmarshals the "data" member into out.
func (r *Response) DecodeData(out interface{}) error {
	if len(r.body.Data) == 0 {
		return fmt.Errorf("crm response has no data")
	}
	return json.Unmarshal(r.body.Data, out)
}

// Errors returns field level validation errors. A plain list of messages is
// returned under the empty field name.
func (r *Response) Errors() map[string][]string {
	if len(r.body.Errors) == 0 || string(r.body.Errors) == "null" {
		return nil
	}

	var fields map[string][]string
	if err := json.Unmarshal(r.body.Errors, &fields); err == nil {
		return fields
	}
	var single map[string]string
	if err := json.Unmarshal(r.body.Errors, &single); err == nil {
		out := make(map[string][]string, len(single))
		for k, v := range single {
			out[k] = []string{v}
		}
		return out
	}
	var list []string
	if err := json.Unmarshal(r.body.Errors, &list); err == nil && len(list) > 0 {
		return map[string][]string{"": list}
	}
	return nil
}

// Message returns the human readable outcome of the call.
func (r *Response) Message() string {
	if r.err != nil {
		return r.err.Error()
	}
	if r.body.Message != "" {
		return r.body.Message
	}
	if errs := r.Errors(); len(errs) > 0 {
		return "validation failed: " + flattenErrors(errs)
	}
	if r.IsSuccess() {
		return ""
	}
	return fmt.Sprintf("crm returned HTTP %d", r.status)
}

// UUID extracts the record uuid from data: an object with "uuid" or "id",
// or the first element of a list.
func (r *Response) UUID() string {
	data := r.body.Data
	if len(data) == 0 {
		return ""
	}

	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err == nil {
		if len(list) == 0 {
			return ""
		}
		data = list[0]
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return ""
	}
	for _, key := range []string{"uuid", "id"} {
		switch v := obj[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func flattenErrors(errs map[string][]string) string {
	fields := make([]string, 0, len(errs))
	for field := range errs {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		for _, msg := range errs[field] {
			if field == "" {
				parts = append(parts, msg)
			} else {
				parts = append(parts, field+" "+msg)
			}
		}
	}
	return strings.Join(parts, "; ")
}
