// Package cmd provides common initialization for the canopy binaries.
package cmd

import (
	"log/slog"

	"github.com/arborops/canopy/pkg/actions/createtask"
	"github.com/arborops/canopy/pkg/actions/email"
	"github.com/arborops/canopy/pkg/actions/httprequest"
	"github.com/arborops/canopy/pkg/actions/logmessage"
	"github.com/arborops/canopy/pkg/actions/sms"
	"github.com/arborops/canopy/pkg/collaborators"
	"github.com/arborops/canopy/pkg/protocol"
	"github.com/arborops/canopy/pkg/registry"
)

// NewRegistry builds the action registry with every built-in action. When
// appBaseURL is empty, deliveries are logged instead of sent.
func NewRegistry(logger *slog.Logger, appBaseURL, appAPIKey string) *registry.Registry {
	reg := registry.NewRegistry(logger)

	if appBaseURL != "" {
		c := collaborators.NewHTTPCollaborator(appBaseURL, appAPIKey)
		registerActions(reg, c, c, c)
	} else {
		c := collaborators.NewLogOnlyCollaborator(logger)
		registerActions(reg, c, c, c)
	}

	return reg
}

func registerActions(reg *registry.Registry, emails protocol.EmailSender, texts protocol.SMSSender, tasks protocol.TaskCreator) {
	reg.RegisterAction(email.NewActionFactory(emails))
	reg.RegisterAction(sms.NewActionFactory(texts))
	reg.RegisterAction(createtask.NewActionFactory(tasks))
	reg.RegisterAction(httprequest.NewActionFactory())
	reg.RegisterAction(logmessage.NewActionFactory())
}
