package payment

import (
	"encoding/json"
	"net/url"
	"strconv"
)

func (p Params) Values() url.Values {
	v := make(url.Values, len(p))
	for k, val := range p {
		v.Set(k, val)
	}
	return v
}

func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// ParamsFromValues flattens form or query values, keeping the first value of
// each key.
func ParamsFromValues(values ...url.Values) Params {
	out := Params{}
	for _, vals := range values {
		for k, v := range vals {
			if len(v) > 0 {
				out[k] = v[0]
			}
		}
	}
	return out
}

// paramsFromJSON flattens a JSON object into string params. Nested values are
// dropped since they never take part in signing.
func paramsFromJSON(body []byte) (Params, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	out := make(Params, len(raw))
	for k, msg := range raw {
		var s string
		if err := json.Unmarshal(msg, &s); err == nil {
			out[k] = s
			continue
		}
		var n json.Number
		if err := json.Unmarshal(msg, &n); err == nil {
			out[k] = n.String()
			continue
		}
		var b bool
		if err := json.Unmarshal(msg, &b); err == nil {
			if b {
				out[k] = "1"
			} else {
				out[k] = ""
			}
			continue
		}
		if string(msg) == "null" {
			out[k] = ""
		}
	}
	return out, nil
}

func (p Params) intValue(key string) (int64, bool) {
	n, err := strconv.ParseInt(p[key], 10, 64)
	return n, err == nil
}
