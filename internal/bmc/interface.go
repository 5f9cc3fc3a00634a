package bmc

import "context"

// Client abstracts sensor reads and fan-speed writes against one BMC. Query
// output is free-form vendor SDR text; parsing lives with the callers.
type Client interface {
	QueryTemperatures(ctx context.Context) (string, error)
	QueryFans(ctx context.Context) (string, error)
	QueryMemory(ctx context.Context) (string, error)
	QueryPowerSupplies(ctx context.Context) (string, error)
	QueryIntrusion(ctx context.Context) (string, error)
	QueryVoltages(ctx context.Context) (string, error)
	QueryRecentEvents(ctx context.Context, limit int) (string, error)

	// SetFanSpeed applies a vendor-specific raw command. An empty fan
	// identifier targets all fans. An rpm of 0 requests full speed.
	SetFanSpeed(ctx context.Context, targetRPM int, fanIdentifier string) error
}

// Target holds the resolved connection details for one BMC. Credentials are
// plaintext here; they come from the secret resolver and must not outlive
// the operation.
type Target struct {
	Vendor   string
	Host     string
	Port     int
	Username string
	Password string
}
