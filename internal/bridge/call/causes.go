package call

// sipCodeByCause maps hangup causes to SIP-style response codes, used
// when a terminal event carries a cause but no explicit code.
var sipCodeByCause = map[string]string{
	"NORMAL_CLEARING":           "sip:200",
	"UNALLOCATED_NUMBER":        "sip:404",
	"NO_ROUTE_DESTINATION":      "sip:404",
	"USER_BUSY":                 "sip:486",
	"NO_USER_RESPONSE":          "sip:408",
	"NO_ANSWER":                 "sip:480",
	"SUBSCRIBER_ABSENT":         "sip:480",
	"CALL_REJECTED":             "sip:603",
	"NUMBER_CHANGED":            "sip:410",
	"INVALID_NUMBER_FORMAT":     "sip:484",
	"FACILITY_REJECTED":         "sip:501",
	"NORMAL_UNSPECIFIED":        "sip:480",
	"NORMAL_CIRCUIT_CONGESTION": "sip:503",
	"NETWORK_OUT_OF_ORDER":      "sip:500",
	"NORMAL_TEMPORARY_FAILURE":  "sip:500",
	"SWITCH_CONGESTION":         "sip:503",
	"OUTGOING_CALL_BARRED":      "sip:403",
	"INCOMING_CALL_BARRED":      "sip:403",
	"BEARERCAPABILITY_NOTAUTH":  "sip:403",
	"SERVICE_UNAVAILABLE":       "sip:503",
	"RECOVERY_ON_TIMER_EXPIRE":  "sip:408",
	"ORIGINATOR_CANCEL":         "sip:487",
	"EXCHANGE_ROUTING_ERROR":    "sip:483",
}

// CauseToSIPCode returns the SIP-style code for a hangup cause,
// defaulting to sip:500 for causes outside the table.
func CauseToSIPCode(cause string) string {
	if code, ok := sipCodeByCause[cause]; ok {
		return code
	}
	return CodeServerError
}
