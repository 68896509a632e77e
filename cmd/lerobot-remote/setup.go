package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/gwillem/lerobot-remote/pkg/api"
	"github.com/gwillem/lerobot-remote/pkg/robot"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type SetupCommand struct {
	SkipCameras bool          `long:"skip-cameras" description:"Do not register cameras"`
	Timeout     time.Duration `long:"timeout" default:"60s" description:"Timeout for robot commands"`
}

func (c *SetupCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client := api.New(api.Config{BaseURL: cfg.APIURL(), Timeout: c.Timeout, Logger: stderrLogger(cfg)})
	ctx := context.Background()

	fmt.Println(headerStyle.Render("LeRobot Remote Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println()

	health, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("backend unreachable at %s: %w", client.BaseURL(), err)
	}
	fmt.Printf("Backend at %s is %s\n\n", client.BaseURL(), health.Status)

	// Step 1: follower arms
	fmt.Println(subHeaderStyle.Render("━━━ Follower Arms ━━━"))
	fmt.Println()
	if err := c.connectArms(ctx, client, cfg); err != nil {
		return err
	}
	if err := cfg.SaveTo(opts.Config); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	// Step 2: cameras
	if !c.SkipCameras {
		fmt.Println()
		fmt.Println(subHeaderStyle.Render("━━━ Cameras ━━━"))
		fmt.Println()
		if err := c.registerCameras(ctx, client, cfg); err != nil {
			return err
		}
	}

	// Step 3: step level and reset pose
	fmt.Println()
	fmt.Println(subHeaderStyle.Render("━━━ Motion ━━━"))
	fmt.Println()
	if err := c.configureMotion(ctx, client, cfg); err != nil {
		return err
	}

	if err := cfg.SaveTo(opts.Config); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	fmt.Println()
	fmt.Println("Start teleoperation with: " + headerStyle.Render("lerobot-remote teleoperate"))
	return nil
}

func (c *SetupCommand) connectArms(ctx context.Context, client *api.Client, cfg *robot.Config) error {
	ports, err := client.Ports(ctx)
	if err != nil {
		return fmt.Errorf("list ports: %w", err)
	}
	ports = slices.DeleteFunc(ports, func(p string) bool {
		// Skip Bluetooth ports on macOS
		return strings.Contains(p, "Bluetooth")
	})
	if len(ports) < 2 {
		fmt.Println("The backend sees fewer than two serial ports.")
		fmt.Println("Make sure both follower arms are connected and powered on.")
		return errors.New("not enough serial ports")
	}
	fmt.Printf("Found %d port(s).\n\n", len(ports))

	port1, port2 := cfg.Port1, cfg.Port2
	if !slices.Contains(ports, port1) {
		port1 = ports[0]
	}
	if !slices.Contains(ports, port2) || port2 == port1 {
		port2 = ports[slices.IndexFunc(ports, func(p string) bool { return p != port1 })]
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Left follower arm port").
				Options(huh.NewOptions(ports...)...).
				Value(&port1),
			huh.NewSelect[string]().
				Title("Right follower arm port").
				Options(huh.NewOptions(ports...)...).
				Value(&port2).
				Validate(func(p string) error {
					if p == port1 {
						return errors.New("pick a different port for each arm")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}

	fmt.Printf("Connecting arms on %s and %s...\n", port1, port2)
	r, err := client.Connect(ctx, port1, port2)
	if err := reportResult("connect", r, err); err != nil {
		return err
	}
	cfg.Port1, cfg.Port2 = port1, port2
	return nil
}

func (c *SetupCommand) registerCameras(ctx context.Context, client *api.Client, cfg *robot.Config) error {
	found, err := client.Cameras(ctx)
	if err != nil {
		return fmt.Errorf("list cameras: %w", err)
	}
	if len(found) == 0 {
		fmt.Println("No cameras found.")
		return nil
	}

	var selected []int
	options := make([]huh.Option[int], 0, len(found))
	for i, cam := range found {
		label := fmt.Sprintf("%s (%s %s, %dx%d)", cam.Name, cam.Type, cam.ID, cam.Width, cam.Height)
		options = append(options, huh.NewOption(label, i))
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[int]().
				Title("Cameras to stream").
				Options(options...).
				Value(&selected),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}

	// Drop cameras registered by an earlier setup run.
	for _, name := range cfg.CameraNames() {
		if _, err := client.RemoveCamera(ctx, name); err != nil && api.StatusCode(err) != 404 {
			fmt.Println(dimStyle.Render(fmt.Sprintf("  could not remove %s: %v", name, err)))
		}
	}
	cfg.Cameras = nil

	for n, i := range selected {
		cam := found[i]
		name := defaultCameraName(n)
		input := huh.NewInput().
			Title(fmt.Sprintf("Name for %s", cam.Name)).
			Value(&name).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("name is required")
				}
				if slices.Contains(cfg.CameraNames(), s) {
					return fmt.Errorf("%s is already used", s)
				}
				return nil
			})
		if err := huh.NewForm(huh.NewGroup(input)).Run(); err != nil {
			fmt.Println()
			os.Exit(0)
		}

		cc := api.CameraConfig{
			Name:   strings.TrimSpace(name),
			ID:     string(cam.ID),
			Type:   cam.Type,
			Width:  cam.Width,
			Height: cam.Height,
			FPS:    int(math.Round(cam.FPS)),
		}
		r, err := client.AddCamera(ctx, cc)
		if err := reportResult("add camera "+cc.Name, r, err); err != nil {
			return err
		}
		cfg.Cameras = append(cfg.Cameras, robot.CameraConfig{
			Name: cc.Name, ID: cc.ID, Type: cc.Type,
			Width: cc.Width, Height: cc.Height, FPS: cc.FPS,
		})
	}
	return nil
}

func defaultCameraName(n int) string {
	names := []string{"front", "wrist", "top"}
	if n < len(names) {
		return names[n]
	}
	return fmt.Sprintf("camera%d", n+1)
}

func (c *SetupCommand) configureMotion(ctx context.Context, client *api.Client, cfg *robot.Config) error {
	level := cfg.StepLevel
	if _, err := api.ParseStepLevel(level); err != nil {
		level = string(api.StepNormal)
	}
	var options []huh.Option[string]
	for _, l := range api.StepLevels() {
		options = append(options, huh.NewOption(string(l), string(l)))
	}
	var recordReset bool

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Step level").
				Description("How far each key press moves a joint").
				Options(options...).
				Value(&level),
			huh.NewConfirm().
				Title("Record the current pose as the reset position?").
				Value(&recordReset),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}

	r, err := client.SetStepLevel(ctx, api.ArmBoth, api.StepLevel(level))
	if err := reportResult("step level", r, err); err != nil {
		return err
	}
	cfg.StepLevel = level

	if recordReset {
		r, err := client.RecordResetPosition(ctx, api.ArmBoth)
		if err := reportResult("record reset position", r, err); err != nil {
			return err
		}
	}
	return nil
}
