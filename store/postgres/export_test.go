package postgres

var TranslateDBErr = translateDBErr
