// ABOUTME: Structural validation of manifest connection candidates
// ABOUTME: Checks records against a nested Connection -> Device -> Hardware template

package manifest

import (
	"errors"
	"fmt"
)

// Validation errors
var (
	ErrInvalidShape = errors.New("candidate does not match manifest structure")
	ErrMissingField = errors.New("candidate is missing a required field")
)

// template lists the keys every connection record carries. Nested maps are
// sub-templates; nil marks a leaf.
var template = map[string]any{
	"connection_name":              nil,
	"created_at":                   nil,
	"last_seen_at":                 nil,
	"margin":                       nil,
	"expected_uplink_interval_sec": nil,
	"connection_type":              nil,
	"lorawandevice": map[string]any{
		"deveui":        nil,
		"name":          nil,
		"battery_level": nil,
		"hardware": map[string]any{
			"hardware":     nil,
			"hw_model":     nil,
			"hw_version":   nil,
			"sw_version":   nil,
			"manufacturer": nil,
			"datasheet":    nil,
			"capabilities": nil,
			"description":  nil,
		},
	},
}

// optional names the template subtrees a candidate may leave out. Hardware is
// only sent for devices that are new to the manifest.
var optional = map[string]bool{
	"lorawandevice.hardware": true,
}

// ValidateShape reports whether rec contains every template key, recursively.
func ValidateShape(rec Record) bool {
	return hasShape(rec, template, "")
}

func hasShape(rec map[string]any, tmpl map[string]any, prefix string) bool {
	for key, sub := range tmpl {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		val, ok := rec[key]
		if !ok {
			if optional[path] {
				continue
			}
			return false
		}

		subTmpl, nested := sub.(map[string]any)
		if !nested {
			continue
		}
		obj, isObj := val.(map[string]any)
		if !isObj || !hasShape(obj, subTmpl, path) {
			return false
		}
	}
	return true
}

// checkRequired applies the minimal field check for connections new to the
// manifest.
func checkRequired(rec Record) error {
	if s, _ := rec["connection_type"].(string); s == "" {
		return fmt.Errorf("%w: connection_type", ErrMissingField)
	}
	dev, _ := rec["lorawandevice"].(map[string]any)
	if s, _ := dev["deveui"].(string); s == "" {
		return fmt.Errorf("%w: lorawandevice.deveui", ErrMissingField)
	}
	if s, _ := dev["name"].(string); s == "" {
		return fmt.Errorf("%w: lorawandevice.name", ErrMissingField)
	}
	hw, _ := dev["hardware"].(map[string]any)
	if s, _ := hw["hw_model"].(string); s == "" {
		return fmt.Errorf("%w: lorawandevice.hardware.hw_model", ErrMissingField)
	}
	return nil
}

// merge overwrites dst with the keys of src. Nested objects present on both
// sides are merged the same way instead of being replaced.
func merge(dst, src map[string]any) {
	for key, val := range src {
		srcObj, srcIsObj := val.(map[string]any)
		dstObj, dstIsObj := dst[key].(map[string]any)
		if srcIsObj && dstIsObj {
			merge(dstObj, srcObj)
			continue
		}
		dst[key] = val
	}
}
