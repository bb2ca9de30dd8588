package config

// Sample is a commented configuration file covering every option
const Sample = `# mysql-mirror configuration
# Every option can also be set through the environment, e.g.
#   MYSQL_MIRROR_PRIMARY_DSN='app:secret@tcp(db:3306)/app'
#   MYSQL_MIRROR_BACKUP_DSN='app:secret@tcp(backup-db:3306)/app_backup'
# Variables in a .env file in the working directory are loaded too.

# Live database being backed up and restored
primary:
  dsn: ""                 # takes precedence over the fields below
  host: localhost
  port: 3306
  username: root
  password: ""            # prefer MYSQL_MIRROR_PRIMARY_PASSWORD
  database: app
  timeout: 30s

# Database holding the latest snapshot; never the same schema as primary
backup:
  dsn: ""
  host: localhost
  port: 3306
  username: root
  password: ""            # prefer MYSQL_MIRROR_BACKUP_PASSWORD
  database: app_backup
  timeout: 30s

engine:
  batch_size: 500                 # rows per INSERT statement
  status_table: backup_status     # lives in the primary only
  status_key: __backup_status__   # reserved primary key of the status row
  exclude_tables: []              # extra glob patterns of tables never copied
  create_backup_database: true    # init creates the backup schema when missing

server:
  listen: ":8080"
  auto_backup_interval: 24h       # negative disables the scheduler

log:
  level: normal           # quiet, normal, verbose, debug
  format: text            # text or json
  file: ""                # also append logs to this file
`
