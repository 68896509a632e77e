package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/lerobot-remote/pkg/keymap"
)

type KeymapCommand struct {
	File string `short:"f" long:"file" description:"Profile file (overrides config)"`

	List     KeymapListCommand     `command:"list" description:"List profiles"`
	Show     KeymapShowCommand     `command:"show" description:"Show the bindings of a profile"`
	Switch   KeymapSwitchCommand   `command:"switch" description:"Select the current profile"`
	Bind     KeymapBindCommand     `command:"bind" description:"Bind an action to a key"`
	Validate KeymapValidateCommand `command:"validate" description:"Validate a profile file"`
	Create   KeymapCreateCommand   `command:"create" description:"Create a profile from an existing one"`
	Delete   KeymapDeleteCommand   `command:"delete" description:"Delete a user profile"`
}

// openStore loads the profile file named by --file or the configuration.
func openStore() (*keymap.Store, error) {
	path := opts.Keymap.File
	level := slog.LevelWarn
	if path == "" || opts.LogLevel != "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		if path == "" {
			path = keymapPath(cfg)
		}
		if opts.LogLevel != "" {
			level = logLevel(cfg)
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	store := keymap.NewStore(path, logger)
	if _, err := store.Load(); err != nil {
		return nil, err
	}
	return store, nil
}

type KeymapListCommand struct{}

func (c *KeymapListCommand) Execute(args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	p := store.Profiles()

	rows := make([][]string, 0, len(p.Profiles))
	for _, id := range p.IDs() {
		prof := p.Profiles[id]
		marker := ""
		if id == p.CurrentProfile {
			marker = "*"
		}
		kind := "user"
		if keymap.IsBuiltin(id) {
			kind = "builtin"
		}
		rows = append(rows, []string{marker, id, prof.Name, kind, prof.Description})
	}

	currentRow := -1
	for i, r := range rows {
		if r[0] != "" {
			currentRow = i
		}
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("", "ID", "Name", "Kind", "Description").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := lipgloss.NewStyle().Padding(0, 1)
			switch {
			case row == table.HeaderRow:
				return style.Bold(true).Foreground(lipgloss.Color("12"))
			case row == currentRow:
				return style.Foreground(lipgloss.Color("10"))
			case col == 3 && rows[row][3] == "builtin":
				return style.Foreground(lipgloss.Color("241"))
			}
			return style
		})

	fmt.Println(t.Render())
	fmt.Println(dimStyle.Render(store.Path()))
	return nil
}

type KeymapShowCommand struct {
	Args struct {
		Profile string `positional-arg-name:"profile" description:"Profile id (default: current)"`
	} `positional-args:"yes"`
}

func (c *KeymapShowCommand) Execute(args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	p := store.Profiles()
	id := c.Args.Profile
	if id == "" {
		id = p.CurrentProfile
	}
	prof, err := p.Get(id)
	if err != nil {
		return err
	}

	fmt.Println(headerStyle.Render(prof.Name) + dimStyle.Render(" ("+id+")"))
	if prof.Description != "" {
		fmt.Println(prof.Description)
	}
	fmt.Println()
	fmt.Println(renderKeymap(prof.Keyboard, nil))
	if err := prof.Keyboard.Validate(); err != nil {
		fmt.Println(errorStyle.Render("invalid: " + err.Error()))
	}
	return nil
}

// renderKeymap draws one table per category side by side. Keys in pressed
// are highlighted.
func renderKeymap(km *keymap.Keymap, pressed map[string]bool) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	actionStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	activeStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("11")).Padding(0, 1)
	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)

	var tables []string
	for _, cat := range keymap.Categories() {
		names := keymap.RequiredActions[cat]
		rows := make([][]string, 0, len(names))
		for _, name := range names {
			key, _ := km.Key(keymap.Action{Category: cat, Name: name})
			rows = append(rows, []string{name, displayKey(key)})
		}
		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(dimStyle).
			Headers(string(cat), "key").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				switch {
				case row == table.HeaderRow:
					return tableHeaderStyle
				case col == 1:
					key, _ := km.Key(keymap.Action{Category: cat, Name: names[row]})
					if pressed[keymap.Normalize(key)] {
						return activeStyle
					}
					return cellStyle
				default:
					return actionStyle
				}
			})
		tables = append(tables, t.Render())
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tables...)
}

func displayKey(key string) string {
	switch key {
	case "":
		return "-"
	case " ":
		return "Space"
	}
	return key
}

type KeymapSwitchCommand struct {
	Args struct {
		Profile string `positional-arg-name:"profile" description:"Profile id (prompted when omitted)"`
	} `positional-args:"yes"`
}

func (c *KeymapSwitchCommand) Execute(args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	id := c.Args.Profile
	if id == "" {
		p := store.Profiles()
		id = p.CurrentProfile
		var options []huh.Option[string]
		for _, pid := range p.IDs() {
			options = append(options, huh.NewOption(fmt.Sprintf("%s - %s", pid, p.Profiles[pid].Name), pid))
		}
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("Keymap profile").
					Options(options...).
					Value(&id),
			),
		)
		if err := form.Run(); err != nil {
			fmt.Println()
			os.Exit(0)
		}
	}

	if err := store.Apply(func(p *keymap.Profiles) error { return p.Switch(id) }); err != nil {
		return err
	}
	fmt.Printf("%s current profile is %s\n", successStyle.Render("✓"), id)
	return nil
}

type KeymapBindCommand struct {
	Profile string `short:"p" long:"profile" description:"Profile id (default: current)"`
	Args    struct {
		Action string `positional-arg-name:"action" description:"category.action, e.g. left_arm.x+"`
		Key    string `positional-arg-name:"key" description:"Key symbol, e.g. W or ArrowUp"`
	} `positional-args:"yes" required:"yes"`
}

func (c *KeymapBindCommand) Execute(args []string) error {
	a, err := keymap.ParseAction(c.Args.Action)
	if err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	id := c.Profile
	if id == "" {
		id = store.Profiles().CurrentProfile
	}

	err = store.Apply(func(p *keymap.Profiles) error { return p.Bind(id, a, c.Args.Key) })
	var conflict *keymap.ConflictError
	if errors.As(err, &conflict) {
		return fmt.Errorf("%s is already bound to %s; unbind it first", conflict.Key, conflict.Existing)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s %s: %s → %s\n", successStyle.Render("✓"), id, a, keymap.Normalize(c.Args.Key))
	return nil
}

type KeymapValidateCommand struct {
	Args struct {
		File string `positional-arg-name:"file" description:"Profile file (default: configured file)"`
	} `positional-args:"yes"`
}

func (c *KeymapValidateCommand) Execute(args []string) error {
	path := c.Args.File
	if path == "" {
		path = opts.Keymap.File
	}
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = keymapPath(cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	p, err := keymap.Decode(data, filepath.Ext(path))
	if err != nil {
		return err
	}

	var failed []string
	for _, id := range p.IDs() {
		if err := p.Profiles[id].Keyboard.Validate(); err != nil {
			fmt.Printf("%s %s: %v\n", errorStyle.Render("✗"), id, err)
			failed = append(failed, id)
			continue
		}
		fmt.Printf("%s %s\n", successStyle.Render("✓"), id)
	}
	if len(failed) > 0 {
		return fmt.Errorf("invalid profiles: %s", strings.Join(failed, ", "))
	}
	return nil
}

type KeymapCreateCommand struct {
	Name        string `long:"name" description:"Display name (default: id)"`
	Description string `long:"description" description:"Profile description"`
	From        string `long:"from" description:"Profile to copy bindings from (default: current)"`
	Args        struct {
		ID string `positional-arg-name:"id" description:"New profile id"`
	} `positional-args:"yes" required:"yes"`
}

func (c *KeymapCreateCommand) Execute(args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	name := c.Name
	if name == "" {
		name = c.Args.ID
	}

	err = store.Apply(func(p *keymap.Profiles) error {
		from := c.From
		if from == "" {
			from = p.CurrentProfile
		}
		src, err := p.Get(from)
		if err != nil {
			return err
		}
		if _, err := p.Get(c.Args.ID); err == nil {
			return fmt.Errorf("profile %s already exists", c.Args.ID)
		}
		return p.Create(c.Args.ID, name, c.Description, src.Keyboard.Clone())
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s created profile %s\n", successStyle.Render("✓"), c.Args.ID)
	return nil
}

type KeymapDeleteCommand struct {
	Args struct {
		ID string `positional-arg-name:"id" description:"Profile id"`
	} `positional-args:"yes" required:"yes"`
}

func (c *KeymapDeleteCommand) Execute(args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	if err := store.Apply(func(p *keymap.Profiles) error { return p.Delete(c.Args.ID) }); err != nil {
		return err
	}
	fmt.Printf("%s deleted profile %s (current: %s)\n", successStyle.Render("✓"), c.Args.ID, store.Profiles().CurrentProfile)
	return nil
}
