package main

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/lk2023060901/fixgarden-go/application"
	"github.com/lk2023060901/fixgarden-go/internal/config"
	"github.com/lk2023060901/fixgarden-go/internal/json"
	"github.com/lk2023060901/fixgarden-go/internal/network/session"
)

// checkReport 为 check 子命令输出的 JSON 结构。
type checkReport struct {
	Config   string          `json:"config"`
	Valid    bool            `json:"valid"`
	Sessions []sessionReport `json:"sessions"`
}

type sessionReport struct {
	Name           string `json:"name"`
	SessionID      string `json:"session_id,omitempty"`
	ConnectionType string `json:"connection_type"`
	Protocol       string `json:"protocol,omitempty"`
	Host           string `json:"host,omitempty"`
	Port           string `json:"port,omitempty"`
	HeartBtInt     string `json:"heartbt_int,omitempty"`
	NonStop        bool   `json:"non_stop"`
	Template       bool   `json:"template"`
	Error          string `json:"error,omitempty"`
}

func newCheckCommand(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the settings file and print the resolved sessions as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := application.New(root.configPath)
			if err := app.Load(); err != nil {
				return err
			}
			report := buildCheckReport(app.Path(), app.Settings())
			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return errors.Wrap(err, "encode report")
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if !report.Valid {
				return errors.New("settings file has invalid sessions")
			}
			return nil
		},
	}
}

func buildCheckReport(path string, settings *config.Settings) checkReport {
	report := checkReport{Config: path, Valid: true}
	for _, d := range settings.Sessions() {
		r := checkSession(d)
		if r.Error != "" {
			report.Valid = false
		}
		report.Sessions = append(report.Sessions, r)
	}
	return report
}

// checkSession 按会话创建时的解析顺序校验单个会话配置。
func checkSession(d *config.Dictionary) sessionReport {
	connType := d.StringOr(config.ConnectionType, config.ConnectionTypeAcceptor)
	r := sessionReport{Name: d.Name(), ConnectionType: connType}
	if connType == config.ConnectionTypeInitiator {
		r.Protocol = strings.ToUpper(d.StringOr(config.SocketConnectProtocol, config.ProtocolSocket))
		r.Host = d.StringOr(config.SocketConnectHost, "")
		r.Port = d.StringOr(config.SocketConnectPort, "")
	} else {
		r.Protocol = strings.ToUpper(d.StringOr(config.SocketAcceptProtocol, config.ProtocolSocket))
		r.Host = d.StringOr(config.SocketAcceptHost, "")
		r.Port = d.StringOr(config.SocketAcceptPort, "")
	}

	id, err := session.SessionIDFromSettings(d)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.SessionID = id.String()
	r.Template = id.IsWildcard()

	cfg, err := session.ConfigFromSettings(d)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.HeartBtInt = cfg.HeartBtInt.String()
	r.NonStop = cfg.Schedule == nil || cfg.Schedule.IsNonStop()
	return r
}
