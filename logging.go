package solo

import "pkt.systems/pslog"

// subsystemKey tags every log entry with the component that emitted it.
const subsystemKey = pslog.TrustedString("sys")

func withSubsystem(logger pslog.Logger, subsystem string) pslog.Logger {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return logger.With(subsystemKey, subsystem)
}
