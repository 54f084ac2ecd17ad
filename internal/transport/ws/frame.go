package ws

import (
	"encoding/json"

	"github.com/bytedance/sonic"
	"github.com/tidwall/gjson"
)

var api = sonic.ConfigStd

// Frame is the unit carried over a relay connection. Clients send
// {"target","data"}; the hub delivers {"origin","data"} where origin is the
// sender's handshake origin.
type Frame struct {
	Origin string          `json:"origin,omitempty"`
	Target string          `json:"target,omitempty"`
	Data   json.RawMessage `json:"data"`
}

func encodeFrame(f Frame) ([]byte, error) {
	return api.Marshal(f)
}

func decodeFrame(raw []byte) (Frame, error) {
	var f Frame
	err := api.Unmarshal(raw, &f)
	return f, err
}

// peekOutbound reads target and data without decoding the envelope inside
func peekOutbound(raw []byte) (target string, data []byte, ok bool) {
	if !gjson.ValidBytes(raw) {
		return "", nil, false
	}
	res := gjson.GetManyBytes(raw, "target", "data")
	if res[0].Type != gjson.String || res[0].Str == "" || !res[1].Exists() {
		return "", nil, false
	}
	return res[0].Str, []byte(res[1].Raw), true
}
