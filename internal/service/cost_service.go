package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/digkill/picly/internal/config"
	"github.com/digkill/picly/internal/metrics"
	"github.com/digkill/picly/internal/models"
	"github.com/digkill/picly/internal/repository"
)

const (
	metricHourlyCost   = "hourly_cost"
	metricDailyCost    = "daily_cost"
	metricHourlyProfit = "hourly_profit"
	metricHourlyMargin = "hourly_margin"
)

// CostService keeps the spend and revenue ledger and trips emergency mode on overspend.
type CostService struct {
	cfg       config.Config
	log       *slog.Logger
	costs     *repository.CostRepository
	emergency *EmergencyMode
	now       func() time.Time
}

func NewCostService(cfg config.Config, log *slog.Logger, costs *repository.CostRepository, emergency *EmergencyMode) *CostService {
	return &CostService{
		cfg:       cfg,
		log:       log.With(slog.String("component", "cost_monitor")),
		costs:     costs,
		emergency: emergency,
		now:       time.Now,
	}
}

type HourlyStats struct {
	HourStart      string  `json:"hour_start"`
	TotalCost      float64 `json:"total_cost"`
	TotalRevenue   float64 `json:"total_revenue"`
	Profit         float64 `json:"profit"`
	Margin         float64 `json:"margin"`
	Requests       int     `json:"requests"`
	Users          int     `json:"users"`
	CostPerRequest float64 `json:"cost_per_request"`
}

type DailyStats struct {
	Date         string  `json:"date"`
	TotalCost    float64 `json:"total_cost"`
	TotalRevenue float64 `json:"total_revenue"`
	Profit       float64 `json:"profit"`
	Margin       float64 `json:"margin"`
	Requests     int     `json:"requests"`
	Users        int     `json:"users"`
	Profitable   bool    `json:"profitable"`
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func margin(profit, revenue float64) float64 {
	if revenue <= 0 {
		return 0
	}
	return profit / revenue * 100
}

func (s *CostService) LogAPICost(ctx context.Context, userID *int64, service, operation string, cost float64, success bool, requestID string) error {
	if err := s.costs.InsertCost(ctx, &models.APICost{
		UserID:    userID,
		Service:   service,
		Operation: operation,
		Cost:      cost,
		Success:   success,
		RequestID: requestID,
		CreatedAt: s.now(),
	}); err != nil {
		return fmt.Errorf("log api cost: %w", err)
	}
	if _, err := s.CheckCostAlerts(ctx); err != nil {
		s.log.Error("cost alert check failed", "err", err)
	}
	return nil
}

func (s *CostService) LogRevenue(ctx context.Context, userID *int64, amount float64, revenueType, description string) error {
	if err := s.costs.InsertRevenue(ctx, &models.Revenue{
		UserID:      userID,
		Amount:      amount,
		Type:        revenueType,
		Description: description,
		CreatedAt:   s.now(),
	}); err != nil {
		return fmt.Errorf("log revenue: %w", err)
	}
	return nil
}

func (s *CostService) HourlyStats(ctx context.Context) (*HourlyStats, error) {
	now := s.now().UTC()
	from := now.Add(-time.Hour)
	// The upper bound is inclusive of rows written in the current second.
	to := now.Add(time.Second)
	summary, err := s.costs.CostBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	revenue, err := s.costs.RevenueBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	profit := revenue - summary.TotalCost
	st := &HourlyStats{
		HourStart:    from.Format("2006-01-02 15:00:00"),
		TotalCost:    round(summary.TotalCost, 2),
		TotalRevenue: round(revenue, 2),
		Profit:       round(profit, 2),
		Margin:       round(margin(profit, revenue), 1),
		Requests:     summary.Requests,
		Users:        summary.UniqueUsers,
	}
	if summary.Requests > 0 {
		st.CostPerRequest = round(summary.TotalCost/float64(summary.Requests), 4)
	}
	return st, nil
}

func (s *CostService) DailyStats(ctx context.Context) (*DailyStats, error) {
	now := s.now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to := now.Add(time.Second)
	summary, err := s.costs.CostBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	revenue, err := s.costs.RevenueBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	profit := revenue - summary.TotalCost
	return &DailyStats{
		Date:         from.Format("2006-01-02"),
		TotalCost:    round(summary.TotalCost, 2),
		TotalRevenue: round(revenue, 2),
		Profit:       round(profit, 2),
		Margin:       round(margin(profit, revenue), 1),
		Requests:     summary.Requests,
		Users:        summary.UniqueUsers,
		Profitable:   profit > 0,
	}, nil
}

// CheckCostAlerts evaluates the thresholds and returns the alerts that currently hold.
// Each alert is persisted once per bucket (hour, or day for the daily limit).
// Emergency mode is (re)activated on every check that finds the daily limit exceeded.
func (s *CostService) CheckCostAlerts(ctx context.Context) ([]models.CostAlert, error) {
	hourly, err := s.HourlyStats(ctx)
	if err != nil {
		return nil, err
	}
	daily, err := s.DailyStats(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	hourBucket := now.Format("2006-01-02T15")
	dayBucket := now.Format("2006-01-02")
	minMargin := s.cfg.MinProfitMargin * 100

	var alerts []models.CostAlert
	if hourly.TotalCost > s.cfg.HourlyCostLimit {
		alerts = append(alerts, models.CostAlert{
			Level: models.AlertWarning, Metric: metricHourlyCost, Bucket: hourBucket,
			Value: hourly.TotalCost, Threshold: s.cfg.HourlyCostLimit,
			Message: fmt.Sprintf("Hourly costs: $%.2f (limit: $%.2f)", hourly.TotalCost, s.cfg.HourlyCostLimit),
		})
	}
	if daily.TotalCost > s.cfg.DailyCostLimit {
		alerts = append(alerts, models.CostAlert{
			Level: models.AlertCritical, Metric: metricDailyCost, Bucket: dayBucket,
			Value: daily.TotalCost, Threshold: s.cfg.DailyCostLimit,
			Message: fmt.Sprintf("Daily costs: $%.2f exceeded $%.2f - EMERGENCY MODE ACTIVATED", daily.TotalCost, s.cfg.DailyCostLimit),
		})
	}
	if hourly.Profit < 0 && hourly.Requests > s.cfg.AlertMinHourlyRequest {
		alerts = append(alerts, models.CostAlert{
			Level: models.AlertWarning, Metric: metricHourlyProfit, Bucket: hourBucket,
			Value: hourly.Profit, Threshold: 0,
			Message: fmt.Sprintf("Losing money! Hourly profit: $%.2f (%.1f%% margin)", hourly.Profit, hourly.Margin),
		})
	}
	if hourly.Margin > 0 && hourly.Margin < minMargin {
		alerts = append(alerts, models.CostAlert{
			Level: models.AlertInfo, Metric: metricHourlyMargin, Bucket: hourBucket,
			Value: hourly.Margin, Threshold: minMargin,
			Message: fmt.Sprintf("Low margin: %.1f%% (target: %.1f%%)", hourly.Margin, minMargin),
		})
	}

	for i := range alerts {
		a := &alerts[i]
		a.CreatedAt = now
		created, err := s.costs.RecordAlert(ctx, a)
		if err != nil {
			return alerts, err
		}
		if created {
			metrics.CostAlerts.WithLabelValues(string(a.Level)).Inc()
			s.log.Warn("cost alert", "level", a.Level, "metric", a.Metric, "message", a.Message)
		}
		if a.Level == models.AlertCritical && s.emergency != nil {
			changed, err := s.emergency.Activate(a.Message)
			if err != nil {
				return alerts, err
			}
			if changed && !created {
				s.log.Warn("emergency mode re-armed", "daily_cost", a.Value, "limit", a.Threshold)
			}
		}
	}
	return alerts, nil
}

func (s *CostService) CostBreakdown(ctx context.Context, hours int) ([]repository.CostBreakdownRow, error) {
	if hours <= 0 {
		hours = 24
	}
	rows, err := s.costs.Breakdown(ctx, s.now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].TotalCost = round(rows[i].TotalCost, 2)
		rows[i].AvgCost = round(rows[i].AvgCost, 4)
	}
	return rows, nil
}

func (s *CostService) TopUserCosts(ctx context.Context, limit int) ([]repository.UserCost, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.costs.TopUsers(ctx, s.now().Add(-24*time.Hour), limit)
}

func (s *CostService) Alerts(ctx context.Context, limit int) ([]models.CostAlert, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.costs.ListAlerts(ctx, limit)
}

// Report renders the plain-text cost summary shown on the admin console.
func (s *CostService) Report(ctx context.Context) (string, error) {
	hourly, err := s.HourlyStats(ctx)
	if err != nil {
		return "", err
	}
	daily, err := s.DailyStats(ctx)
	if err != nil {
		return "", err
	}
	breakdown, err := s.CostBreakdown(ctx, 24)
	if err != nil {
		return "", err
	}
	users, err := s.TopUserCosts(ctx, 5)
	if err != nil {
		return "", err
	}

	status := "Losing Money"
	if daily.Profitable {
		status = "Profitable"
	}
	line := strings.Repeat("=", 63)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n%s\n\n", line, "                 PICLY COST MONITORING REPORT", line)
	fmt.Fprintf(&b, "CURRENT HOUR (%s)\n", hourly.HourStart)
	fmt.Fprintf(&b, "   Revenue:    $%8.2f\n   Costs:      $%8.2f\n   Profit:     $%8.2f\n", hourly.TotalRevenue, hourly.TotalCost, hourly.Profit)
	fmt.Fprintf(&b, "   Margin:     %7.1f%%\n   Requests:   %8d\n   Users:      %8d\n\n", hourly.Margin, hourly.Requests, hourly.Users)
	fmt.Fprintf(&b, "TODAY (%s)\n", daily.Date)
	fmt.Fprintf(&b, "   Revenue:    $%8.2f\n   Costs:      $%8.2f\n   Profit:     $%8.2f\n", daily.TotalRevenue, daily.TotalCost, daily.Profit)
	fmt.Fprintf(&b, "   Margin:     %7.1f%%\n   Status:     %s\n\n", daily.Margin, status)
	b.WriteString("COST BREAKDOWN (Last 24h)\n")
	for i, item := range breakdown {
		if i == 5 {
			break
		}
		fmt.Fprintf(&b, "   %-15s %-20s $%7.2f (%d requests)\n", item.Service, item.Operation, item.TotalCost, item.Requests)
	}
	b.WriteString("\nTOP COST USERS (Last 24h)\n")
	for _, u := range users {
		fmt.Fprintf(&b, "   User #%5d  $%7.2f (%d requests)\n", u.UserID, u.TotalCost, u.Requests)
	}
	if s.emergency != nil && s.emergency.Active() {
		b.WriteString("\nEMERGENCY MODE ACTIVE\n")
	}
	b.WriteString("\n" + line + "\n")
	return b.String(), nil
}
