package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Mininet-Optical/mininet-optical-sub000/core"
	"github.com/Mininet-Optical/mininet-optical-sub000/internal/twin"
	"github.com/Mininet-Optical/mininet-optical-sub000/topology"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrInvalidRequest is returned when a request payload is malformed or
// misses a required field.
var ErrInvalidRequest = errors.New("invalid request")

type switchRuleRequest struct {
	Roadm    string `json:"roadm"`
	ID       string `json:"id"`
	InPort   int    `json:"in_port"`
	OutPort  int    `json:"out_port"`
	Channels []int  `json:"channels"`
}

func (r switchRuleRequest) validate() error {
	if err := required("roadm", r.Roadm); err != nil {
		return err
	}
	return required("id", r.ID)
}

type deleteRuleRequest struct {
	Roadm string `json:"roadm"`
	ID    string `json:"id,omitempty"`
}

func (r deleteRuleRequest) validate() error { return required("roadm", r.Roadm) }

type voaRequest struct {
	Roadm    string  `json:"roadm"`
	Channel  int     `json:"channel"`
	OutPort  int     `json:"out_port"`
	PowerDBm float64 `json:"power_dbm"`
}

func (r voaRequest) validate() error { return required("roadm", r.Roadm) }

type bindingRequest struct {
	Terminal    string `json:"terminal"`
	Transceiver int    `json:"transceiver"`
	Channel     int    `json:"channel"`
	Port        int    `json:"port"`
}

func (r bindingRequest) validate() error { return required("terminal", r.Terminal) }

type turnOnRequest struct {
	Terminal string `json:"terminal"`
	Safe     bool   `json:"safe,omitempty"`
}

func (r turnOnRequest) validate() error { return required("terminal", r.Terminal) }

type turnOffRequest struct {
	Terminal string `json:"terminal"`
	Channels []int  `json:"channels,omitempty"`
}

func (r turnOffRequest) validate() error { return required("terminal", r.Terminal) }

type nameRequest struct {
	Name string `json:"name"`
}

func (r nameRequest) validate() error { return required("name", r.Name) }

type gainRequest struct {
	Amplifier string  `json:"amplifier"`
	GainDB    float64 `json:"gain_db"`
}

func (r gainRequest) validate() error { return required("amplifier", r.Amplifier) }

type signalsRequest struct {
	Node string `json:"node"`
	Port int    `json:"port"`
	Mode string `json:"mode,omitempty"`
}

func (r signalsRequest) validate() error { return required("node", r.Node) }

type monitorRequest struct {
	Kind  string `json:"kind"`
	Name  string `json:"name"`
	Index int    `json:"index,omitempty"`
	Mode  string `json:"mode,omitempty"`
}

func (r monitorRequest) validate() error {
	if err := required("kind", r.Kind); err != nil {
		return err
	}
	return required("name", r.Name)
}

func (r monitorRequest) toTwin() (twin.MonitorRequest, error) {
	mode, err := core.ParseMode(r.Mode)
	if err != nil {
		return twin.MonitorRequest{}, err
	}
	return twin.MonitorRequest{Kind: twin.MonitorKind(strings.ToLower(r.Kind)), Name: r.Name, Index: r.Index, Mode: mode}, nil
}

type validator interface {
	validate() error
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidRequest, field)
	}
	return nil
}

// decode converts a request struct into v and validates it. Unknown
// fields are rejected.
func decode(in *structpb.Struct, v validator) error {
	if in == nil {
		return fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}
	data, err := json.Marshal(in.AsMap())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return v.validate()
}

// encode converts a JSON-serializable request into a struct. Only used for
// payloads that carry finite numbers.
func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// Readings and reports may hold infinite dB values, which JSON cannot
// carry, so they are built as structpb values directly.

func readingsValue(readings []core.Reading) *structpb.Value {
	list := make([]*structpb.Value, 0, len(readings))
	for _, r := range readings {
		list = append(list, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"channel":       structpb.NewNumberValue(float64(r.Channel)),
			"frequency_hz":  structpb.NewNumberValue(r.FrequencyHz),
			"power_dbm":     structpb.NewNumberValue(r.PowerDBm),
			"ase_noise_dbm": structpb.NewNumberValue(r.ASENoiseDBm),
			"nli_noise_dbm": structpb.NewNumberValue(r.NLINoiseDBm),
			"osnr_db":       structpb.NewNumberValue(r.OSNRdB),
			"gosnr_db":      structpb.NewNumberValue(r.GOSNRdB),
		}}))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: list})
}

func readingsFrom(st *structpb.Struct) []core.Reading {
	var out []core.Reading
	for _, v := range st.GetFields()["readings"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		out = append(out, core.Reading{
			Channel:     int(f["channel"].GetNumberValue()),
			FrequencyHz: f["frequency_hz"].GetNumberValue(),
			PowerDBm:    f["power_dbm"].GetNumberValue(),
			ASENoiseDBm: f["ase_noise_dbm"].GetNumberValue(),
			NLINoiseDBm: f["nli_noise_dbm"].GetNumberValue(),
			OSNRdB:      f["osnr_db"].GetNumberValue(),
			GOSNRdB:     f["gosnr_db"].GetNumberValue(),
		})
	}
	return out
}

func reportsValue(reports map[string][]core.ReceptionReport) *structpb.Value {
	byTerminal := make(map[string]*structpb.Value, len(reports))
	for name, reps := range reports {
		list := make([]*structpb.Value, 0, len(reps))
		for _, r := range reps {
			list = append(list, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
				"channel":      structpb.NewNumberValue(float64(r.Channel)),
				"port":         structpb.NewNumberValue(float64(r.Port)),
				"transceiver":  structpb.NewNumberValue(float64(r.TransceiverID)),
				"ok":           structpb.NewBoolValue(r.OK),
				"reason":       structpb.NewStringValue(r.Reason),
				"power_dbm":    structpb.NewNumberValue(r.PowerDBm),
				"osnr_db":      structpb.NewNumberValue(r.OSNRdB),
				"gosnr_db":     structpb.NewNumberValue(r.GOSNRdB),
				"threshold_db": structpb.NewNumberValue(r.ThresholdDB),
			}}))
		}
		byTerminal[name] = structpb.NewListValue(&structpb.ListValue{Values: list})
	}
	return structpb.NewStructValue(&structpb.Struct{Fields: byTerminal})
}

func reportsFrom(st *structpb.Struct) map[string][]core.ReceptionReport {
	out := make(map[string][]core.ReceptionReport)
	for name, v := range st.GetFields()["reports"].GetStructValue().GetFields() {
		for _, item := range v.GetListValue().GetValues() {
			f := item.GetStructValue().GetFields()
			out[name] = append(out[name], core.ReceptionReport{
				Channel:       int(f["channel"].GetNumberValue()),
				Port:          int(f["port"].GetNumberValue()),
				TransceiverID: int(f["transceiver"].GetNumberValue()),
				OK:            f["ok"].GetBoolValue(),
				Reason:        f["reason"].GetStringValue(),
				PowerDBm:      f["power_dbm"].GetNumberValue(),
				OSNRdB:        f["osnr_db"].GetNumberValue(),
				GOSNRdB:       f["gosnr_db"].GetNumberValue(),
				ThresholdDB:   f["threshold_db"].GetNumberValue(),
			})
		}
	}
	return out
}

// PassResult is the outcome of a TurnOn or TurnOff. PropagationError is
// set when the pass completed but reported routing loops or exhausted its
// switch budget.
type PassResult struct {
	Reports          map[string][]core.ReceptionReport
	PropagationError string
}

func passResultStruct(reports map[string][]core.ReceptionReport, passErr error) *structpb.Struct {
	fields := map[string]*structpb.Value{"reports": reportsValue(reports)}
	if passErr != nil {
		fields["propagation_error"] = structpb.NewStringValue(passErr.Error())
	}
	return &structpb.Struct{Fields: fields}
}

func passResultFrom(st *structpb.Struct) PassResult {
	return PassResult{
		Reports:          reportsFrom(st),
		PropagationError: st.GetFields()["propagation_error"].GetStringValue(),
	}
}

func describeStruct(d *topology.Description) (*structpb.Struct, error) {
	return encode(d)
}

func describeFrom(st *structpb.Struct) (*topology.Description, error) {
	data, err := json.Marshal(st.AsMap())
	if err != nil {
		return nil, err
	}
	return topology.Load(bytes.NewReader(data), topology.FormatJSON)
}
