// Package mailer sends the transactional emails of the auth flow: magic
// sign-in links and account activation links.
//
// Messages are rendered from text templates and handed to an async.Queue, so
// an SMTP outage never fails the HTTP request that triggered the email. Each
// delivery is retried with exponential backoff; final failures are logged and
// counted.
//
//	sender, err := mailer.NewSMTPSender(cfg.Mail)
//	notifier := mailer.NewNotifier(ctx, sender, metrics, mailer.NotifierConfig{
//		Queue:         async.DefaultQueueConfig(),
//		MagicLinkTTL:  15 * time.Minute,
//		ActivationTTL: 7 * 24 * time.Hour,
//	}, logger)
//	defer notifier.Shutdown(10 * time.Second)
//
// When delivery is disabled, LogSender records the recipient and subject in
// the log instead.
package mailer
