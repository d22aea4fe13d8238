package classifier

import (
	"context"
	"testing"

	"github.com/mmeshcher/ecorewards-system/internal/model"
)

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

func TestClassifyLabel(t *testing.T) {
	tests := []struct {
		name       string
		label      string
		deviceType model.DeviceType
		confidence float64
	}{
		{name: "iphone", label: "IMG_iPhone12.jpg", deviceType: model.DeviceSmartphone, confidence: 0.85},
		{name: "macbook", label: "old-MacBook-pro.png", deviceType: model.DeviceLaptop, confidence: 0.90},
		{name: "ipad", label: "ipad.jpeg", deviceType: model.DeviceTablet, confidence: 0.88},
		{name: "usb cable", label: "usb_cable.jpg", deviceType: model.DeviceCharger, confidence: 0.92},
		{name: "airpods", label: "AirPods.jpg", deviceType: model.DeviceHeadphones, confidence: 0.87},
		{name: "watch", label: "garmin-watch.jpg", deviceType: model.DeviceSmartwatch, confidence: 0.89},
		{name: "first match wins", label: "phone-charger.jpg", deviceType: model.DeviceSmartphone, confidence: 0.85},
		{name: "no match", label: "IMG_0001.jpg", deviceType: model.DeviceSmartphone, confidence: 0.75},
		{name: "empty", label: "", deviceType: model.DeviceSmartphone, confidence: 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyLabel(tt.label)
			if got.DeviceType != tt.deviceType {
				t.Fatalf("ClassifyLabel(%q).DeviceType = %s, want %s", tt.label, got.DeviceType, tt.deviceType)
			}
			if got.Confidence != tt.confidence {
				t.Fatalf("ClassifyLabel(%q).Confidence = %v, want %v", tt.label, got.Confidence, tt.confidence)
			}
		})
	}
}

func TestConditionFor_Deterministic(t *testing.T) {
	tests := []struct {
		x    float64
		want model.Condition
	}{
		{x: 0, want: model.ConditionExcellent},
		{x: 0.3, want: model.ConditionExcellent},
		{x: 0.31, want: model.ConditionGood},
		{x: 0.79, want: model.ConditionGood},
		{x: 0.81, want: model.ConditionFair},
		{x: 0.999, want: model.ConditionFair},
	}

	for _, tt := range tests {
		k := NewKeyword(fixedRand(tt.x))
		if got := k.ConditionFor(model.DeviceLaptop); got != tt.want {
			t.Fatalf("ConditionFor with x=%v = %s, want %s", tt.x, got, tt.want)
		}
	}
}

func TestKeyword_DefaultRandStaysInDistribution(t *testing.T) {
	k := NewKeyword(nil)
	for i := 0; i < 200; i++ {
		c := k.ConditionFor(model.DeviceSmartphone)
		if c == model.ConditionPoor || !c.Valid() {
			t.Fatalf("unexpected condition %q", c)
		}
	}

	rec, err := k.Classify(context.Background(), "laptop.png")
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if rec.DeviceType != model.DeviceLaptop {
		t.Fatalf("DeviceType = %s, want laptop", rec.DeviceType)
	}
}
