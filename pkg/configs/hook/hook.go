package hook

import (
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads hook configuration.
//
//	promotion-hooks:
//	  before:
//	    - http://approver.example.com/promotions
//	  after:
//	    - http://notifier.example.com/promoted
func Load(filename string) (Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type Config struct {
	// Called around model promotion.
	Promotion WebHook `yaml:"promotion-hooks,omitempty"`
}

type WebHook struct {
	Before []*url.URL
	After  []*url.URL
}

func (wh *WebHook) UnmarshalYAML(node *yaml.Node) error {
	raw := struct {
		Before []string `yaml:"before"`
		After  []string `yaml:"after"`
	}{}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	var err error
	if wh.Before, err = parseURLs(raw.Before); err != nil {
		return err
	}
	if wh.After, err = parseURLs(raw.After); err != nil {
		return err
	}
	return nil
}

func parseURLs(raw []string) ([]*url.URL, error) {
	ret := make([]*url.URL, len(raw))
	for i, u := range raw {
		parsed, err := url.Parse(u)
		if err != nil {
			return nil, err
		}
		ret[i] = parsed
	}
	return ret, nil
}

// Empty reports whether no URL is configured.
func (wh WebHook) Empty() bool {
	return len(wh.Before) == 0 && len(wh.After) == 0
}
