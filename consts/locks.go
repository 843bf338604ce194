package consts

// MailsiftAdvisoryLockID is a unique integer used for a PostgreSQL advisory
// lock to ensure that only one mailsift instance or admin tool can perform
// critical operations (like migrations) at a time.
const MailsiftAdvisoryLockID = 58210947 // A randomly chosen integer
