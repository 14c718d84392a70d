// Package feed connects the agent to a NATS server: it receives parameter
// values published by devices and publishes alarm transitions back.
//
// Subjects follow the device tree:
//
//	<solution>.<device>.<parameter>.currentValue     values in
//	<solution>.<device>.<parameter>.<alarm>          alarm raised or cleared
//	<solution>.<device>.<parameter>.<alarm>.Ack      alarm acknowledged
package feed

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const currentValueToken = "currentValue"

// ValueSubject returns the subject a device publishes a parameter value on.
func ValueSubject(solution string, deviceID, parameterID uuid.UUID) string {
	return solution + "." + deviceID.String() + "." + parameterID.String() + "." + currentValueToken
}

// AllValuesSubject matches the values of every parameter of every device.
func AllValuesSubject(solution string) string {
	return solution + ".*.*." + currentValueToken
}

// DeviceValuesSubject matches the values of every parameter of one device.
func DeviceValuesSubject(solution string, deviceID uuid.UUID) string {
	return solution + "." + deviceID.String() + ".*." + currentValueToken
}

// AlarmSubject returns the subject an alarm transition is published on.
func AlarmSubject(solution string, deviceID, parameterID, alarmID uuid.UUID) string {
	return solution + "." + deviceID.String() + "." + parameterID.String() + "." + alarmID.String()
}

// AckSubject returns the subject an alarm acknowledgement is published on.
func AckSubject(solution string, deviceID, parameterID, alarmID uuid.UUID) string {
	return AlarmSubject(solution, deviceID, parameterID, alarmID) + ".Ack"
}

// ParseValueSubject extracts the device and parameter ids from a value
// subject.
func ParseValueSubject(subject string) (deviceID, parameterID uuid.UUID, err error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 4 || parts[3] != currentValueToken {
		return uuid.Nil, uuid.Nil, fmt.Errorf("not a value subject: %q", subject)
	}
	if deviceID, err = uuid.Parse(parts[1]); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid device id in %q: %w", subject, err)
	}
	if parameterID, err = uuid.Parse(parts[2]); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid parameter id in %q: %w", subject, err)
	}
	return deviceID, parameterID, nil
}
