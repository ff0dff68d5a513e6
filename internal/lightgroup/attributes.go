package lightgroup

import (
	"encoding/json"
	"fmt"
	"math"
)

// Service data keys understood by light.turn_on / light.turn_off
const (
	AttrEntityID          = "entity_id"
	AttrBrightness        = "brightness"
	AttrBrightnessPct     = "brightness_pct"
	AttrBrightnessStep    = "brightness_step"
	AttrBrightnessStepPct = "brightness_step_pct"
	AttrColorTemp         = "color_temp"
	AttrColorTempKelvin   = "color_temp_kelvin"
	AttrEffect            = "effect"
	AttrFlash             = "flash"
	AttrHSColor           = "hs_color"
	AttrRGBColor          = "rgb_color"
	AttrRGBWColor         = "rgbw_color"
	AttrRGBWWColor        = "rgbww_color"
	AttrTransition        = "transition"
	AttrWhite             = "white"
	AttrXYColor           = "xy_color"
)

// TurnOnParams holds the attributes a light group forwards to its members.
// Nil / empty fields are not sent.
type TurnOnParams struct {
	Brightness      *int
	ColorTemp       *int
	ColorTempKelvin *int
	Effect          *string
	Flash           *string
	HSColor         []float64
	RGBColor        []int
	RGBWColor       []int
	RGBWWColor      []int
	Transition      *float64
	White           *int
	XYColor         []float64
}

// WithBrightness returns a copy with the brightness replaced (nil removes it)
func (p TurnOnParams) WithBrightness(brightness *int) TurnOnParams {
	if brightness != nil {
		b := *brightness
		brightness = &b
	}
	p.Brightness = brightness
	return p
}

// ServiceData renders the params as light.turn_on service data for entityIDs
func (p TurnOnParams) ServiceData(entityIDs []string) map[string]interface{} {
	data := p.Attributes()
	data[AttrEntityID] = append([]string(nil), entityIDs...)
	return data
}

// Attributes renders the set params as a map, without entity_id
func (p TurnOnParams) Attributes() map[string]interface{} {
	data := make(map[string]interface{})

	if p.Brightness != nil {
		data[AttrBrightness] = *p.Brightness
	}
	if p.ColorTemp != nil {
		data[AttrColorTemp] = *p.ColorTemp
	}
	if p.ColorTempKelvin != nil {
		data[AttrColorTempKelvin] = *p.ColorTempKelvin
	}
	if p.Effect != nil {
		data[AttrEffect] = *p.Effect
	}
	if p.Flash != nil {
		data[AttrFlash] = *p.Flash
	}
	if len(p.HSColor) > 0 {
		data[AttrHSColor] = p.HSColor
	}
	if len(p.RGBColor) > 0 {
		data[AttrRGBColor] = p.RGBColor
	}
	if len(p.RGBWColor) > 0 {
		data[AttrRGBWColor] = p.RGBWColor
	}
	if len(p.RGBWWColor) > 0 {
		data[AttrRGBWWColor] = p.RGBWWColor
	}
	if p.Transition != nil {
		data[AttrTransition] = *p.Transition
	}
	if p.White != nil {
		data[AttrWhite] = *p.White
	}
	if len(p.XYColor) > 0 {
		data[AttrXYColor] = p.XYColor
	}

	return data
}

// TurnOnRequest is a turn-on as received from a caller: the forwarded params
// plus the relative brightness forms that are resolved against the group.
type TurnOnRequest struct {
	TurnOnParams
	BrightnessPct     *float64
	BrightnessStep    *int
	BrightnessStepPct *float64
}

// Attributes renders the request as it was received, relative forms included
func (r TurnOnRequest) Attributes() map[string]interface{} {
	data := r.TurnOnParams.Attributes()
	if r.BrightnessPct != nil {
		data[AttrBrightnessPct] = *r.BrightnessPct
	}
	if r.BrightnessStep != nil {
		data[AttrBrightnessStep] = *r.BrightnessStep
	}
	if r.BrightnessStepPct != nil {
		data[AttrBrightnessStepPct] = *r.BrightnessStepPct
	}
	return data
}

// Resolve turns brightness_pct / brightness_step / brightness_step_pct into an
// absolute brightness. current is the group brightness (nil when unknown).
func (r TurnOnRequest) Resolve(current *int) TurnOnParams {
	params := r.TurnOnParams

	if r.BrightnessPct != nil {
		b := int(math.RoundToEven(*r.BrightnessPct * BrightnessMax / 100))
		params.Brightness = &b
	}

	if r.BrightnessStep != nil || r.BrightnessStepPct != nil {
		base := 0
		if params.Brightness != nil {
			base = *params.Brightness
		} else if current != nil {
			base = *current
		}

		if r.BrightnessStep != nil {
			base += *r.BrightnessStep
		} else {
			base += int(math.RoundToEven(*r.BrightnessStepPct * BrightnessMax / 100))
		}

		b := clamp(base, 0, BrightnessMax)
		params.Brightness = &b
	}

	return params
}

// brightnessForms counts how many ways of asking for a brightness are set
func (r TurnOnRequest) brightnessForms() int {
	n := 0
	if r.Brightness != nil {
		n++
	}
	if r.BrightnessPct != nil {
		n++
	}
	if r.BrightnessStep != nil {
		n++
	}
	if r.BrightnessStepPct != nil {
		n++
	}
	return n
}

// ParseTurnOnRequest copies the recognised turn-on keys out of service data.
// Unknown keys (entity_id included) are ignored; recognised keys with a bad
// type or range are an error.
func ParseTurnOnRequest(data map[string]interface{}) (TurnOnRequest, error) {
	var req TurnOnRequest
	var err error

	if req.Brightness, err = intField(data, AttrBrightness, 0, 255); err != nil {
		return req, err
	}
	if req.BrightnessPct, err = floatField(data, AttrBrightnessPct, 0, 100); err != nil {
		return req, err
	}
	if req.BrightnessStep, err = intField(data, AttrBrightnessStep, -255, 255); err != nil {
		return req, err
	}
	if req.BrightnessStepPct, err = floatField(data, AttrBrightnessStepPct, -100, 100); err != nil {
		return req, err
	}
	if req.brightnessForms() > 1 {
		return req, fmt.Errorf("only one of %s, %s, %s, %s may be set",
			AttrBrightness, AttrBrightnessPct, AttrBrightnessStep, AttrBrightnessStepPct)
	}
	if req.ColorTemp, err = intField(data, AttrColorTemp, 1, math.MaxInt32); err != nil {
		return req, err
	}
	if req.ColorTempKelvin, err = intField(data, AttrColorTempKelvin, 1, math.MaxInt32); err != nil {
		return req, err
	}
	if req.Effect, err = stringField(data, AttrEffect); err != nil {
		return req, err
	}
	if req.Flash, err = stringField(data, AttrFlash); err != nil {
		return req, err
	}
	if req.Flash != nil && *req.Flash != "short" && *req.Flash != "long" {
		return req, fmt.Errorf("invalid %s %q: expected short or long", AttrFlash, *req.Flash)
	}
	if req.HSColor, err = floatList(data, AttrHSColor, 2); err != nil {
		return req, err
	}
	if req.RGBColor, err = intList(data, AttrRGBColor, 3); err != nil {
		return req, err
	}
	if req.RGBWColor, err = intList(data, AttrRGBWColor, 4); err != nil {
		return req, err
	}
	if req.RGBWWColor, err = intList(data, AttrRGBWWColor, 5); err != nil {
		return req, err
	}
	if req.Transition, err = floatField(data, AttrTransition, 0, math.MaxFloat64); err != nil {
		return req, err
	}
	if req.White, err = intField(data, AttrWhite, 0, 255); err != nil {
		return req, err
	}
	if req.XYColor, err = floatList(data, AttrXYColor, 2); err != nil {
		return req, err
	}

	return req, nil
}

// TurnOffParams holds what a group forwards on light.turn_off
type TurnOffParams struct {
	Transition *float64
}

// ServiceData renders the params as light.turn_off service data for entityIDs
func (p TurnOffParams) ServiceData(entityIDs []string) map[string]interface{} {
	data := map[string]interface{}{
		AttrEntityID: append([]string(nil), entityIDs...),
	}
	if p.Transition != nil {
		data[AttrTransition] = *p.Transition
	}
	return data
}

// ParseTurnOffParams copies the recognised turn-off keys out of service data
func ParseTurnOffParams(data map[string]interface{}) (TurnOffParams, error) {
	transition, err := floatField(data, AttrTransition, 0, math.MaxFloat64)
	if err != nil {
		return TurnOffParams{}, err
	}
	return TurnOffParams{Transition: transition}, nil
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func floatField(data map[string]interface{}, key string, min, max float64) (*float64, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return nil, nil
	}

	f, ok := toFloat(raw)
	if !ok || math.IsNaN(f) {
		return nil, fmt.Errorf("invalid %s: expected a number, got %v", key, raw)
	}
	if f < min || f > max {
		return nil, fmt.Errorf("invalid %s %v: out of range", key, f)
	}
	return &f, nil
}

func intField(data map[string]interface{}, key string, min, max int) (*int, error) {
	f, err := floatField(data, key, float64(min), float64(max))
	if err != nil || f == nil {
		return nil, err
	}
	i := int(math.Round(*f))
	return &i, nil
}

func stringField(data map[string]interface{}, key string) (*string, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return nil, nil
	}

	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("invalid %s: expected a string, got %v", key, raw)
	}
	return &s, nil
}

func floatList(data map[string]interface{}, key string, length int) ([]float64, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return nil, nil
	}

	var items []interface{}
	switch v := raw.(type) {
	case []interface{}:
		items = v
	case []float64:
		return checkLength(key, append([]float64(nil), v...), length)
	case []int:
		out := make([]float64, len(v))
		for i, n := range v {
			out[i] = float64(n)
		}
		return checkLength(key, out, length)
	default:
		return nil, fmt.Errorf("invalid %s: expected a list, got %v", key, raw)
	}

	out := make([]float64, 0, len(items))
	for _, item := range items {
		f, ok := toFloat(item)
		if !ok {
			return nil, fmt.Errorf("invalid %s: %v is not a number", key, item)
		}
		out = append(out, f)
	}
	return checkLength(key, out, length)
}

func intList(data map[string]interface{}, key string, length int) ([]int, error) {
	floats, err := floatList(data, key, length)
	if err != nil || floats == nil {
		return nil, err
	}

	out := make([]int, len(floats))
	for i, f := range floats {
		if f < 0 || f > 255 {
			return nil, fmt.Errorf("invalid %s: channel value %v out of range", key, f)
		}
		out[i] = int(math.Round(f))
	}
	return out, nil
}

func checkLength(key string, values []float64, length int) ([]float64, error) {
	if len(values) != length {
		return nil, fmt.Errorf("invalid %s: expected %d values, got %d", key, length, len(values))
	}
	return values, nil
}
