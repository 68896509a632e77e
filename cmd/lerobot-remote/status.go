package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/lerobot-remote/pkg/api"
	"github.com/gwillem/lerobot-remote/pkg/robot"
)

type StatusCommand struct {
	Timeout time.Duration `long:"timeout" default:"5s" description:"Request timeout"`
}

func (c *StatusCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client := newClient(cfg, stderrLogger(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	fmt.Println(headerStyle.Render("LeRobot Remote Status"))
	fmt.Println(dimStyle.Render(client.BaseURL()))
	fmt.Println()

	h, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	robotState := errorStyle.Render("not connected")
	if h.RobotConnected {
		robotState = successStyle.Render("connected")
	}
	fmt.Printf("Backend:    %s\n", h.Status)
	fmt.Printf("Robot:      %s\n", robotState)
	fmt.Printf("WebSockets: %d\n", h.ActiveWebsockets)
	fmt.Println()

	if !h.RobotConnected {
		fmt.Println("Connect the robot with: " + headerStyle.Render("lerobot-remote setup"))
		return nil
	}

	obs, err := client.Observation(ctx)
	if err != nil {
		return fmt.Errorf("read observation: %w", err)
	}
	fmt.Println(renderObservation(obs))
	return nil
}

// renderObservation lays out arm joints side by side, followed by the head
// and base values.
func renderObservation(obs map[string]float64) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	motorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)

	value := func(key string) string {
		v, ok := obs[key]
		if !ok {
			return "-"
		}
		return fmt.Sprintf("%.1f", v)
	}

	rows := make([][]string, 0, len(robot.AllMotors()))
	for _, m := range robot.AllMotors() {
		row := []string{string(m)}
		for _, arm := range robot.Arms() {
			row = append(row, value(robot.JointKey(arm, m)))
		}
		rows = append(rows, row)
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Motor", "Left arm", "Right arm").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return tableHeaderStyle
			case col == 0:
				return motorStyle
			default:
				return cellStyle
			}
		})

	var sb strings.Builder
	sb.WriteString(t.Render())
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Head:  %s / %s\n", value(robot.HeadMotor1), value(robot.HeadMotor2))
	fmt.Fprintf(&sb, "Base:  x=%s y=%s theta=%s", value(robot.BaseX), value(robot.BaseY), value(robot.BaseTheta))
	return sb.String()
}

// reportResult prints the outcome of a REST call.
func reportResult(what string, r *api.Result, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	fmt.Printf("%s %s\n", successStyle.Render("✓"), what+": "+api.FormatResult(r))
	return nil
}
