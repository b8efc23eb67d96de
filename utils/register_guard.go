package utils

import "time"

var registrationWindows = newKeyStore("reg:cooldown:")

// RegistrationCooldownTry reports whether ip may attempt a registration now.
// An allowed attempt opens a new window during which further tries fail.
func RegistrationCooldownTry(ip string, window time.Duration) bool {
	if window <= 0 || ip == "" {
		return true
	}
	if registrationWindows.has(ip) {
		return false
	}
	registrationWindows.put(ip, window)
	return true
}
