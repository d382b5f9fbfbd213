// Package score turns reconciled readings and annotations into per-sensor
// confidence views.
package score

import (
	"math"
	"sort"
	"time"

	"github.com/c360/semtrust/message"
)

// MaxReadingsPerSensor caps the readings listed in a SensorView
const MaxReadingsPerSensor = 75

// ShortIDLen is the number of key characters shown in a ReadingView
const ShortIDLen = 10

// Weights maps each satisfied annotation kind to its score contribution
type Weights map[message.Kind]float64

// DefaultWeights are the contributions used by the dashboard
func DefaultWeights() Weights {
	return Weights{
		message.KindThreshold: 0.333333,
		message.KindSource:    0.133333,
		message.KindTLS:       0.2,
		message.KindPKI:       0.333333,
	}
}

// Score sums the weights of satisfied annotations. Unknown kinds add nothing
// and duplicates count twice, so the result may exceed 1.
func (w Weights) Score(annotations []message.Annotation) float64 {
	var total float64
	for _, a := range annotations {
		if a.IsSatisfied {
			total += w[a.Kind]
		}
	}
	return total
}

// ReadingView is one reading with its matched annotations
type ReadingView struct {
	ShortID     string               `json:"short_id"`
	Address     string               `json:"address"`
	Timestamp   time.Time            `json:"timestamp"`
	Value       uint8                `json:"value"`
	Annotations []message.Annotation `json:"annotations"`
	Score       float64              `json:"score"`
}

// SensorView summarizes one sensor
type SensorView struct {
	SensorID          string        `json:"sensor_id"`
	Total             int           `json:"total"`
	AverageConfidence float64       `json:"average_confidence"`
	Readings          []ReadingView `json:"readings"`
}

// BuildView computes sensor views with DefaultWeights
func BuildView(readings []message.ReadingRecord, annotations []message.AnnotationRecord) []SensorView {
	return DefaultWeights().BuildView(readings, annotations)
}

// BuildView groups readings by sensor, newest first, and scores each against
// the annotations sharing its key. The average covers every reading of the
// sensor before the list is cut to MaxReadingsPerSensor.
func (w Weights) BuildView(readings []message.ReadingRecord, annotations []message.AnnotationRecord) []SensorView {
	byKey := make(map[string][]message.Annotation)
	for _, a := range annotations {
		byKey[a.ReadingKey] = append(byKey[a.ReadingKey], a.Annotation)
	}

	bySensor := make(map[string][]ReadingView)
	for _, r := range readings {
		anns := byKey[r.Key]
		if anns == nil {
			anns = []message.Annotation{}
		}
		bySensor[r.Reading.SensorID] = append(bySensor[r.Reading.SensorID], ReadingView{
			ShortID:     shortID(r.Key),
			Address:     r.Address,
			Timestamp:   r.Reading.Timestamp,
			Value:       r.Reading.Value,
			Annotations: anns,
			Score:       w.Score(anns),
		})
	}

	views := make([]SensorView, 0, len(bySensor))
	for sensor, rv := range bySensor {
		sort.SliceStable(rv, func(i, j int) bool {
			return rv[i].Timestamp.After(rv[j].Timestamp)
		})

		view := SensorView{
			SensorID:          sensor,
			Total:             len(rv),
			AverageConfidence: averageConfidence(rv),
			Readings:          rv,
		}
		if len(rv) > MaxReadingsPerSensor {
			view.Readings = rv[:MaxReadingsPerSensor]
		}
		views = append(views, view)
	}

	sort.Slice(views, func(i, j int) bool {
		return views[i].SensorID < views[j].SensorID
	})
	return views
}

// averageConfidence is the mean score rounded to 3 places, scaled to percent
func averageConfidence(rv []ReadingView) float64 {
	if len(rv) == 0 {
		return 0
	}
	var sum float64
	for _, r := range rv {
		sum += r.Score
	}
	mean := sum / float64(len(rv))
	return math.Round(mean*1000) / 10
}

func shortID(key string) string {
	if len(key) <= ShortIDLen {
		return key
	}
	return key[:ShortIDLen]
}
