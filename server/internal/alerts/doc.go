// Package alerts raises provider issue and certificate expiry alerts from
// run reports and delivers webhook notifications to Teams, Slack or generic
// HTTP targets when they fire or resolve.
package alerts
