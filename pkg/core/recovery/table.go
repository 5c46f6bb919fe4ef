package recovery

// rule pairs the severity of a classified error with its recovery strategy.
type rule struct {
	severity Severity
	strategy Strategy
}

// rules is the static classification table. Lookup is (domain, key) with a
// fallback to (domain, default), then to (UNKNOWN, default), so every error
// is classifiable.
var rules = map[Domain]map[string]rule{
	DomainVoiceRecognition: {
		"no-speech":     {SeverityLow, StrategyIgnore},
		"aborted":       {SeverityLow, StrategyIgnore},
		"audio-capture": {SeverityHigh, StrategyResetCurrent},
		"not-allowed":   {SeverityHigh, StrategyUserAction},
		"network":       {SeverityMedium, StrategyRetry},
		defaultKey:      {SeverityMedium, StrategyResetCurrent},
	},
	DomainTextToSpeech: {
		"interrupted": {SeverityLow, StrategyIgnore},
		"canceled":    {SeverityLow, StrategyIgnore},
		"network":     {SeverityMedium, StrategyRetry},
		defaultKey:    {SeverityMedium, StrategyResetCurrent},
	},
	DomainAPIRequest: {
		"timeout":  {SeverityMedium, StrategyRetry},
		"network":  {SeverityMedium, StrategyRetry},
		"offline":  {SeverityHigh, StrategyResetCurrent},
		"408":      {SeverityMedium, StrategyRetry},
		"429":      {SeverityMedium, StrategyRetry},
		"500":      {SeverityMedium, StrategyRetry},
		"502":      {SeverityMedium, StrategyRetry},
		"503":      {SeverityMedium, StrategyRetry},
		"504":      {SeverityMedium, StrategyRetry},
		"404":      {SeverityMedium, StrategyResetCurrent},
		defaultKey: {SeverityMedium, StrategyResetCurrent},
	},
	DomainNetwork: {
		"offline":  {SeverityHigh, StrategyResetCurrent},
		"timeout":  {SeverityMedium, StrategyRetry},
		defaultKey: {SeverityMedium, StrategyRetry},
	},
	DomainAuthentication: {
		"401":      {SeverityCritical, StrategyUserAction},
		"403":      {SeverityCritical, StrategyUserAction},
		defaultKey: {SeverityCritical, StrategyUserAction},
	},
	DomainToolExecution: {
		"timeout":  {SeverityMedium, StrategyRetry},
		defaultKey: {SeverityHigh, StrategyResetCurrent},
	},
	DomainStateTransition: {
		defaultKey: {SeverityLow, StrategyIgnore},
	},
	DomainUnknown: {
		defaultKey: {SeverityMedium, StrategyResetCurrent},
	},
}

// messages maps (domain, key) to the user-facing string that is spoken when
// a strategy surfaces the error. Lookup uses the same fallback chain as
// rules and always resolves to a non-empty string; the raw error is never
// presented.
var messages = map[Domain]map[string]string{
	DomainVoiceRecognition: {
		"audio-capture": "I can't access the microphone right now. Let's try that again.",
		"not-allowed":   "Microphone access is blocked. Please allow microphone permissions and try again.",
		"network":       "I lost the connection while listening. Let's try that again.",
		defaultKey:      "I didn't catch that. Let's try again.",
	},
	DomainTextToSpeech: {
		defaultKey: "I had trouble speaking the response. Let's try again.",
	},
	DomainAPIRequest: {
		"timeout":  "That took too long to process. Let's try again.",
		"offline":  "You appear to be offline. Please check your connection.",
		defaultKey: "Something went wrong while processing your request. Let's try again.",
	},
	DomainNetwork: {
		"offline":  "You appear to be offline. Please check your connection.",
		defaultKey: "The connection is unstable. Let's try again.",
	},
	DomainAuthentication: {
		defaultKey: "Your session has expired. Please sign in again.",
	},
	DomainToolExecution: {
		defaultKey: "I couldn't complete that action. Let's try again.",
	},
	DomainStateTransition: {
		defaultKey: "Something got out of order. Let's start over.",
	},
	DomainUnknown: {
		defaultKey: "Something unexpected went wrong. Let's try again.",
	},
}

// classify resolves the rule for (domain, key) through the fallback chain.
func classify(domain Domain, key string) rule {
	if byKey, ok := rules[domain]; ok {
		if r, ok := byKey[key]; ok {
			return r
		}
		if r, ok := byKey[defaultKey]; ok {
			return r
		}
	}
	return rules[DomainUnknown][defaultKey]
}

// messageFor resolves the user-facing message for (domain, key).
func messageFor(domain Domain, key string) string {
	if byKey, ok := messages[domain]; ok {
		if m, ok := byKey[key]; ok {
			return m
		}
		if m, ok := byKey[defaultKey]; ok {
			return m
		}
	}
	return messages[DomainUnknown][defaultKey]
}
