package cmds

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/moon/pkg/steps/ai/settings"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Commands for manipulating the settings file",
	}

	cmd.AddCommand(NewShowConfigCommand())
	cmd.AddCommand(NewInitConfigCommand())
	cmd.AddCommand(NewSetConfigCommand())

	return cmd
}

func NewShowConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings, environment overrides included",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, path, err := loadSettings()
			if err != nil {
				return err
			}
			if len(s.APIKey) > 8 {
				s.APIKey = s.APIKey[:8] + "..."
			}

			b, err := yaml.Marshal(s)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", path, b)
			return nil
		},
	}
}

func NewInitConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := settingsPath()
			if err != nil {
				return err
			}

			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return errors.Errorf("%s already exists, use --force to overwrite it", path)
			}
			if err := settings.NewSettings().Save(path); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "Overwrite an existing file")
	return cmd
}

func NewSetConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a single key of the settings file, keeping its other content",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := settingsPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				if err := settings.NewSettings().Save(path); err != nil {
					return err
				}
			}

			root, err := readAndParseConfig(path)
			if err != nil {
				return err
			}
			setScalar(root, args[0], args[1])

			s := &settings.Settings{}
			if err := root.Decode(s); err != nil {
				return errors.Wrapf(err, "invalid value for %s", args[0])
			}
			if err := s.Validate(); err != nil {
				return err
			}

			if err := writeConfig(path, root); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Set %s in %s\n", args[0], path)
			return nil
		},
	}
}

// setScalar sets key of the top-level mapping of root to value, adding the
// key if missing.
func setScalar(root *yaml.Node, key string, value string) {
	if root.Kind != yaml.DocumentNode {
		*root = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode}}}
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		root.Content = []*yaml.Node{{Kind: yaml.MappingNode}}
	}
	mapNode := root.Content[0]

	valueNode := &yaml.Node{Kind: yaml.ScalarNode, Value: value}
	for i := 0; i < len(mapNode.Content)-1; i += 2 {
		if mapNode.Content[i].Value == key {
			mapNode.Content[i+1] = valueNode
			return
		}
	}
	mapNode.Content = append(mapNode.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: key},
		valueNode,
	)
}

func readAndParseConfig(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errors.Wrap(err, "error parsing config file")
	}
	return &root, nil
}

func writeConfig(path string, root *yaml.Node) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0600)
	if err != nil {
		return errors.Wrap(err, "error opening config file for writing")
	}
	defer func() {
		_ = f.Close()
	}()

	encoder := yaml.NewEncoder(f)
	encoder.SetIndent(2)
	if err := encoder.Encode(root); err != nil {
		return errors.Wrap(err, "error writing config file")
	}
	return encoder.Close()
}
