package main

import (
	"context"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"

	"github.com/go-go-golems/livecoord/pkg/config"
	"github.com/go-go-golems/livecoord/pkg/profiles"
)

type ProfilesCommand struct {
	*cmds.CommandDescription
}

type ProfilesSettings struct {
	ProfilesFile string `glazed:"profiles-file"`
}

var _ cmds.GlazeCommand = &ProfilesCommand{}

func NewProfilesCommand() (*ProfilesCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsSection, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"profiles",
		cmds.WithShort("List the agent profiles connections can be created for"),
		cmds.WithFlags(
			fields.New(
				"profiles-file",
				fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("YAML file with additional agent profiles"),
			),
		),
		cmds.WithSections(glazedSection, commandSettingsSection),
	)
	return &ProfilesCommand{CommandDescription: desc}, nil
}

func (c *ProfilesCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsed *values.Values,
	gp middlewares.Processor,
) error {
	s := &ProfilesSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	cs := config.Default()
	cs.Server.ProfilesFile = s.ProfilesFile
	reg, err := loadProfiles(cs)
	if err != nil {
		return err
	}
	for _, p := range reg.List() {
		if err := gp.AddRow(ctx, profileRow(p)); err != nil {
			return err
		}
	}
	return nil
}

func profileRow(p profiles.Profile) types.Row {
	return types.NewRow(
		types.MRP("key", p.Key),
		types.MRP("model", p.Model),
		types.MRP("voice", p.Voice),
		types.MRP("handoffs", strings.Join(p.Handoffs, ",")),
		types.MRP("text_only", p.TextOnly),
		types.MRP("description", p.Description),
	)
}
