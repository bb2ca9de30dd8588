package replication

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"

	"mysql-mirror/internal/errors"
	"mysql-mirror/internal/schema"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const imagesDDL = "CREATE TABLE `images` (\n  `id` int NOT NULL,\n  `url` varchar(255) DEFAULT NULL,\n  PRIMARY KEY (`id`)\n) ENGINE=InnoDB"

func imagesTable() *schema.TableDescriptor {
	return &schema.TableDescriptor{Name: "images", DDL: imagesDDL, PrimaryKey: []string{"id"}, Columns: []string{"id", "url"}}
}

func newMocks(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	source, sourceMock, err := sqlmock.New()
	require.NoError(t, err)
	destination, destinationMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		source.Close()
		destination.Close()
	})
	return source, sourceMock, destination, destinationMock
}

func q(s string) string {
	return regexp.QuoteMeta(s)
}

func TestReplicate_CopiesRowsInKeyOrder(t *testing.T) {
	source, sourceMock, destination, destinationMock := newMocks(t)

	sourceMock.ExpectQuery(q("SELECT COUNT(*) FROM `images`")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(2))
	sourceMock.ExpectQuery(q("SELECT `id`, `url` FROM `images` ORDER BY `id`")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "url"}).
			AddRow(1, "a.png").
			AddRow(2, nil))

	destinationMock.ExpectExec(q("DROP TABLE IF EXISTS `images`")).WillReturnResult(sqlmock.NewResult(0, 0))
	destinationMock.ExpectExec(q(imagesDDL)).WillReturnResult(sqlmock.NewResult(0, 0))
	destinationMock.ExpectExec(q("INSERT INTO `images` (`id`, `url`) VALUES (?, ?), (?, ?)")).
		WithArgs(1, "a.png", 2, nil).
		WillReturnResult(sqlmock.NewResult(0, 2))

	result, err := NewReplicator(nil).Replicate(context.Background(), source, destination, Request{Table: imagesTable()})
	require.NoError(t, err)

	assert.Equal(t, "images", result.Table)
	assert.Equal(t, "images", result.Target)
	assert.Equal(t, int64(2), result.SourceRows)
	assert.Equal(t, int64(2), result.CopiedRows)
	assert.Equal(t, 1, result.Batches)
	assert.NoError(t, sourceMock.ExpectationsWereMet())
	assert.NoError(t, destinationMock.ExpectationsWereMet())
}

func TestReplicate_EmptyTable(t *testing.T) {
	source, sourceMock, destination, destinationMock := newMocks(t)

	sourceMock.ExpectQuery(q("SELECT COUNT(*) FROM `images`")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(0))
	sourceMock.ExpectQuery(q("SELECT `id`, `url` FROM `images` ORDER BY `id`")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "url"}))

	destinationMock.ExpectExec(q("DROP TABLE IF EXISTS `images`")).WillReturnResult(sqlmock.NewResult(0, 0))
	destinationMock.ExpectExec(q(imagesDDL)).WillReturnResult(sqlmock.NewResult(0, 0))

	result, err := NewReplicator(nil).Replicate(context.Background(), source, destination, Request{Table: imagesTable()})
	require.NoError(t, err)

	assert.Equal(t, int64(0), result.CopiedRows)
	assert.Equal(t, 0, result.Batches)
	assert.NoError(t, destinationMock.ExpectationsWereMet())
}

func TestReplicate_BatchesRows(t *testing.T) {
	source, sourceMock, destination, destinationMock := newMocks(t)

	// without a column list every column is read
	logs := &schema.TableDescriptor{Name: "logs", DDL: "CREATE TABLE `logs` (`line` text)"}
	rows := sqlmock.NewRows([]string{"line"})
	for i := 1; i <= 5; i++ {
		rows.AddRow(fmt.Sprintf("line %d", i))
	}

	sourceMock.ExpectQuery(q("SELECT COUNT(*) FROM `logs`")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(5))
	sourceMock.ExpectQuery(q("SELECT * FROM `logs`")).WillReturnRows(rows)

	destinationMock.ExpectExec(q("DROP TABLE IF EXISTS `logs`")).WillReturnResult(sqlmock.NewResult(0, 0))
	destinationMock.ExpectExec(q(logs.DDL)).WillReturnResult(sqlmock.NewResult(0, 0))
	destinationMock.ExpectExec(q("INSERT INTO `logs` (`line`) VALUES (?), (?)")).
		WithArgs("line 1", "line 2").WillReturnResult(sqlmock.NewResult(0, 2))
	destinationMock.ExpectExec(q("INSERT INTO `logs` (`line`) VALUES (?), (?)")).
		WithArgs("line 3", "line 4").WillReturnResult(sqlmock.NewResult(0, 2))
	destinationMock.ExpectExec(q("INSERT INTO `logs` (`line`) VALUES (?)")).
		WithArgs("line 5").WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := NewReplicator(nil).WithBatchSize(2).
		Replicate(context.Background(), source, destination, Request{Table: logs})
	require.NoError(t, err)

	assert.Equal(t, int64(5), result.CopiedRows)
	assert.Equal(t, 3, result.Batches)
	assert.NoError(t, destinationMock.ExpectationsWereMet())
}

func TestReplicate_ExcludesFilteredRowsIntoStaging(t *testing.T) {
	source, sourceMock, destination, destinationMock := newMocks(t)

	table := &schema.TableDescriptor{
		Name:       "backup_status",
		DDL:        "CREATE TABLE `backup_status` (`id` varchar(64) NOT NULL, PRIMARY KEY (`id`))",
		PrimaryKey: []string{"id"},
		Columns:    []string{"id"},
	}

	sourceMock.ExpectQuery(q("SELECT COUNT(*) FROM `backup_status` WHERE NOT (`id` <=> ?)")).
		WithArgs("__backup_status__").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(1))
	sourceMock.ExpectQuery(q("SELECT `id` FROM `backup_status` WHERE NOT (`id` <=> ?) ORDER BY `id`")).
		WithArgs("__backup_status__").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("tenant-a"))

	destinationMock.ExpectExec(q("DROP TABLE IF EXISTS `backup_status__mirror_staging`")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	destinationMock.ExpectExec(q("CREATE TABLE `backup_status__mirror_staging` (`id` varchar(64) NOT NULL, PRIMARY KEY (`id`))")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	destinationMock.ExpectExec(q("INSERT INTO `backup_status__mirror_staging` (`id`) VALUES (?)")).
		WithArgs("tenant-a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := NewReplicator(nil).Replicate(context.Background(), source, destination, Request{
		Table:   table,
		Target:  schema.StagingName("backup_status"),
		Exclude: &RowFilter{Column: "id", Value: "__backup_status__"},
	})
	require.NoError(t, err)

	assert.Equal(t, "backup_status__mirror_staging", result.Target)
	assert.Equal(t, int64(1), result.CopiedRows)
	assert.NoError(t, sourceMock.ExpectationsWereMet())
	assert.NoError(t, destinationMock.ExpectationsWereMet())
}

func TestReplicate_SkipsGeneratedColumns(t *testing.T) {
	source, sourceMock, destination, destinationMock := newMocks(t)

	ddl := "CREATE TABLE `orders` (\n" +
		"  `id` int NOT NULL,\n" +
		"  `qty` int NOT NULL,\n" +
		"  `price` decimal(10,2) NOT NULL,\n" +
		"  `total` decimal(12,2) GENERATED ALWAYS AS ((`qty` * `price`)) STORED,\n" +
		"  PRIMARY KEY (`id`)\n" +
		") ENGINE=InnoDB"
	orders := &schema.TableDescriptor{
		Name:       "orders",
		DDL:        ddl,
		PrimaryKey: []string{"id"},
		Columns:    []string{"id", "qty", "price"},
	}

	sourceMock.ExpectQuery(q("SELECT COUNT(*) FROM `orders`")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(1))
	sourceMock.ExpectQuery(q("SELECT `id`, `qty`, `price` FROM `orders` ORDER BY `id`")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "qty", "price"}).AddRow(1, 3, "2.50"))

	destinationMock.ExpectExec(q("DROP TABLE IF EXISTS `orders`")).WillReturnResult(sqlmock.NewResult(0, 0))
	destinationMock.ExpectExec(q(ddl)).WillReturnResult(sqlmock.NewResult(0, 0))
	destinationMock.ExpectExec(q("INSERT INTO `orders` (`id`, `qty`, `price`) VALUES (?, ?, ?)")).
		WithArgs(1, 3, "2.50").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := NewReplicator(nil).Replicate(context.Background(), source, destination, Request{Table: orders})
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.CopiedRows)
	assert.NoError(t, sourceMock.ExpectationsWereMet())
	assert.NoError(t, destinationMock.ExpectationsWereMet())
}

func TestReplicate_UsesDDLOverride(t *testing.T) {
	source, sourceMock, destination, destinationMock := newMocks(t)

	staged := "CREATE TABLE `images__mirror_staging` (`id` int NOT NULL, CONSTRAINT `fk_1a2b3c4d` FOREIGN KEY (`id`) REFERENCES `posts__mirror_staging` (`id`))"

	sourceMock.ExpectQuery(q("SELECT COUNT(*) FROM `images`")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(0))
	sourceMock.ExpectQuery(q("SELECT `id`, `url` FROM `images` ORDER BY `id`")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "url"}))

	destinationMock.ExpectExec(q("DROP TABLE IF EXISTS `images__mirror_staging`")).WillReturnResult(sqlmock.NewResult(0, 0))
	destinationMock.ExpectExec(q(staged)).WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := NewReplicator(nil).Replicate(context.Background(), source, destination, Request{
		Table:  imagesTable(),
		Target: "images__mirror_staging",
		DDL:    staged,
	})
	require.NoError(t, err)
	assert.NoError(t, destinationMock.ExpectationsWereMet())
}

func TestReplicate_SourceFailureLeavesDestinationUntouched(t *testing.T) {
	source, sourceMock, destination, destinationMock := newMocks(t)

	sourceMock.ExpectQuery(q("SELECT COUNT(*) FROM `images`")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(2))
	sourceMock.ExpectQuery(q("SELECT `id`, `url` FROM `images` ORDER BY `id`")).
		WillReturnError(fmt.Errorf("lost connection"))

	_, err := NewReplicator(nil).Replicate(context.Background(), source, destination, Request{Table: imagesTable()})
	require.Error(t, err)

	assert.Equal(t, errors.ErrorTypeReplication, errors.GetErrorType(err))
	assert.NoError(t, destinationMock.ExpectationsWereMet())
}

func TestReplicate_DDLFailureAborts(t *testing.T) {
	source, sourceMock, destination, destinationMock := newMocks(t)

	sourceMock.ExpectQuery(q("SELECT COUNT(*) FROM `images`")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(1))
	sourceMock.ExpectQuery(q("SELECT `id`, `url` FROM `images` ORDER BY `id`")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "url"}).AddRow(1, "a.png"))

	destinationMock.ExpectExec(q("DROP TABLE IF EXISTS `images`")).WillReturnResult(sqlmock.NewResult(0, 0))
	destinationMock.ExpectExec(q(imagesDDL)).WillReturnError(fmt.Errorf("unknown collation"))

	result, err := NewReplicator(nil).Replicate(context.Background(), source, destination, Request{Table: imagesTable()})
	require.Error(t, err)

	assert.Contains(t, err.Error(), "failed to create table images")
	assert.Equal(t, int64(0), result.CopiedRows)
	assert.NoError(t, destinationMock.ExpectationsWereMet())
}

func TestReplicate_InsertFailure(t *testing.T) {
	source, sourceMock, destination, destinationMock := newMocks(t)

	sourceMock.ExpectQuery(q("SELECT COUNT(*) FROM `images`")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(1))
	sourceMock.ExpectQuery(q("SELECT `id`, `url` FROM `images` ORDER BY `id`")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "url"}).AddRow(1, "a.png"))

	destinationMock.ExpectExec(q("DROP TABLE IF EXISTS `images`")).WillReturnResult(sqlmock.NewResult(0, 0))
	destinationMock.ExpectExec(q(imagesDDL)).WillReturnResult(sqlmock.NewResult(0, 0))
	destinationMock.ExpectExec(q("INSERT INTO `images`")).WillReturnError(fmt.Errorf("disk full"))

	_, err := NewReplicator(nil).Replicate(context.Background(), source, destination, Request{Table: imagesTable()})
	require.Error(t, err)

	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, errors.ErrorTypeReplication, appErr.Type)
	assert.Equal(t, "images", appErr.Context["table"])
}

func TestReplicate_InvalidRequest(t *testing.T) {
	source, _, destination, _ := newMocks(t)

	_, err := NewReplicator(nil).Replicate(context.Background(), source, destination, Request{})
	require.Error(t, err)

	_, err = NewReplicator(nil).Replicate(context.Background(), source, destination,
		Request{Table: &schema.TableDescriptor{Name: "images"}})
	require.Error(t, err)
}

func TestRowsPerStatement(t *testing.T) {
	r := NewReplicator(nil)
	assert.Equal(t, DefaultBatchSize, r.BatchSize())
	assert.Equal(t, 500, r.rowsPerStatement(10))
	assert.Equal(t, 655, r.WithBatchSize(1000).rowsPerStatement(100))
	assert.Equal(t, 1, r.rowsPerStatement(70000))

	r.WithBatchSize(0)
	assert.Equal(t, 1000, r.BatchSize(), "non-positive sizes are ignored")
}

func TestInsertStatement(t *testing.T) {
	got := insertStatement("odd`name", []string{"a", "b"}, 2)
	assert.Equal(t, "INSERT INTO `odd``name` (`a`, `b`) VALUES (?, ?), (?, ?)", got)
}

func TestRowSet_Row(t *testing.T) {
	rs := &RowSet{
		Columns: []string{"id", "url"},
		Rows:    [][]interface{}{{int64(1), []byte("a.png")}, {int64(2), nil}},
	}

	assert.Equal(t, 2, rs.Len())
	assert.Equal(t, map[string]interface{}{"id": int64(2), "url": nil}, rs.Row(1))
}
