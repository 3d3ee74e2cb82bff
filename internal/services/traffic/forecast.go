package traffic

import (
	"math"
	"sort"

	"bus-backend/internal/models"

	movingaverage "github.com/RobinUS2/golang-moving-average"
)

const (
	smoothUpperBound   = 20
	moderateUpperBound = 50

	trendFactor     = 0.5
	projectionSteps = 5
	// Шаг прогноза для оценки времени до разгрузки
	minutesPerStep = 3
)

// Classify уровень загруженности по плотности. Границы 20 и 50 полуоткрытые.
func Classify(density float64) models.TrafficLevel {
	switch {
	case density < smoothUpperBound:
		return models.LevelSmooth
	case density < moderateUpperBound:
		return models.LevelModerate
	default:
		return models.LevelHeavy
	}
}

func Rank(level models.TrafficLevel) int {
	switch level {
	case models.LevelModerate:
		return 1
	case models.LevelHeavy:
		return 2
	default:
		return 0
	}
}

type Signal string

const (
	SignalNone       Signal = "none"
	SignalEscalation Signal = "escalation"
	SignalCooldown   Signal = "cooldown"
)

// Escalation сравнивает прогнозный уровень с текущим
func Escalation(current, predicted models.TrafficLevel) Signal {
	switch c, p := Rank(current), Rank(predicted); {
	case p > c:
		return SignalEscalation
	case p < c:
		return SignalCooldown
	default:
		return SignalNone
	}
}

type ConfidenceBand string

const (
	ConfidenceLow    ConfidenceBand = "Low"
	ConfidenceMedium ConfidenceBand = "Medium"
	ConfidenceHigh   ConfidenceBand = "High"
)

func bandFor(confidence float64) ConfidenceBand {
	switch {
	case confidence < 0.33:
		return ConfidenceLow
	case confidence < 0.66:
		return ConfidenceMedium
	default:
		return ConfidenceHigh
	}
}

type ProjectionPoint struct {
	Step    int                 `json:"step"`
	Density float64             `json:"density"`
	Level   models.TrafficLevel `json:"level"`
}

type Forecast struct {
	JunctionID       string              `json:"signalId"`
	Name             string              `json:"name"`
	CurrentDensity   int                 `json:"currentDensity"`
	CurrentLevel     models.TrafficLevel `json:"currentLevel"`
	Trend            float64             `json:"trend"`
	PredictedDensity float64             `json:"predictedDensity"`
	PredictedLevel   models.TrafficLevel `json:"predictedLevel"`
	Confidence       float64             `json:"confidence"`
	ConfidenceBand   ConfidenceBand      `json:"confidenceBand"`
	Signal           Signal              `json:"signal"`
	Projection       []ProjectionPoint   `json:"projection"`
	MinutesToClear   *int                `json:"minutesToClear,omitempty"`
	SmoothedDensity  float64             `json:"smoothedDensity"`
}

// ComputeForecast строит прогноз по хронологической истории замеров.
// Меньше двух замеров означает отсутствие прогноза, а не ошибку.
func ComputeForecast(history []models.JunctionReading) (*Forecast, bool) {
	if len(history) < 2 {
		return nil, false
	}
	last := history[len(history)-1]
	prev := history[len(history)-2]

	lastDensity := float64(last.Density)
	trend := lastDensity - float64(prev.Density)
	predicted := lastDensity + trend*trendFactor
	confidence := math.Min(1, math.Abs(trend)/math.Max(1, math.Abs(lastDensity)))

	current := Classify(lastDensity)
	predictedLevel := Classify(predicted)

	f := &Forecast{
		JunctionID:       last.JunctionID,
		Name:             last.Name,
		CurrentDensity:   last.Density,
		CurrentLevel:     current,
		Trend:            trend,
		PredictedDensity: predicted,
		PredictedLevel:   predictedLevel,
		Confidence:       confidence,
		ConfidenceBand:   bandFor(confidence),
		Signal:           Escalation(current, predictedLevel),
		Projection:       project(lastDensity, trend),
		MinutesToClear:   minutesToClear(lastDensity, trend),
		SmoothedDensity:  smooth(history),
	}
	return f, true
}

func project(last, trend float64) []ProjectionPoint {
	points := make([]ProjectionPoint, 0, projectionSteps)
	for i := 1; i <= projectionSteps; i++ {
		d := last + trend*trendFactor*float64(i)
		points = append(points, ProjectionPoint{Step: i, Density: d, Level: Classify(d)})
	}
	return points
}

// minutesToClear через сколько минут плотность опустится ниже порога Smooth.
// nil, если плотность не снижается.
func minutesToClear(last, trend float64) *int {
	if last < smoothUpperBound {
		zero := 0
		return &zero
	}
	if trend >= 0 {
		return nil
	}
	step := math.Abs(trend) * trendFactor
	steps := int(math.Floor((last-smoothUpperBound)/step)) + 1
	minutes := steps * minutesPerStep
	return &minutes
}

func smooth(history []models.JunctionReading) float64 {
	ma := movingaverage.New(len(history))
	for _, r := range history {
		ma.Add(float64(r.Density))
	}
	return ma.Avg()
}

// RiskReport перекрёстки, где ожидается рост или спад загруженности
type RiskReport struct {
	Escalations []Forecast `json:"escalationRisks"`
	Cooldowns   []Forecast `json:"cooldowns"`
}

func buildRiskReport(forecasts []Forecast) RiskReport {
	report := RiskReport{Escalations: []Forecast{}, Cooldowns: []Forecast{}}
	for _, f := range forecasts {
		switch f.Signal {
		case SignalEscalation:
			report.Escalations = append(report.Escalations, f)
		case SignalCooldown:
			report.Cooldowns = append(report.Cooldowns, f)
		}
	}
	sort.SliceStable(report.Escalations, func(i, j int) bool {
		return report.Escalations[i].PredictedDensity > report.Escalations[j].PredictedDensity
	})
	sort.SliceStable(report.Cooldowns, func(i, j int) bool {
		return report.Cooldowns[i].PredictedDensity < report.Cooldowns[j].PredictedDensity
	})
	return report
}
